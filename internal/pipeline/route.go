package pipeline

// Decide maps a cluster's score to a routing outcome. It keeps no state:
// every cluster is evaluated on its own.
func Decide(clusterKey string, score EventScore, cfg RoutingConfig) RouteDecision {
	decision := RouteDecision{ClusterKey: clusterKey}
	switch {
	case cfg.Mode.AllowsAutopublish() &&
		score.Tier0 &&
		score.Score >= cfg.BreakingThreshold &&
		score.Confidence >= cfg.MinAutopublishConfidence:
		decision.Route = RoutePublishNow
	case score.Score >= cfg.DigestMinScore:
		decision.Route = RouteDigest
	case cfg.ModerationEnabled || cfg.Mode.RequiresReview():
		decision.Route = RouteReview
	default:
		decision.Route = RouteDrop
		decision.DropReason = DropReasonLowScore
	}
	return decision
}
