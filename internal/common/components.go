package common

const (
	ComponentPoller      = "poller"
	ComponentSource      = "source"
	ComponentProjector   = "projector"
	ComponentStore       = "store"
	ComponentMaintenance = "maintenance"
	ComponentMetrics     = "metrics"
)

var AllComponents = map[string]struct{}{
	ComponentPoller:      {},
	ComponentSource:      {},
	ComponentProjector:   {},
	ComponentStore:       {},
	ComponentMaintenance: {},
	ComponentMetrics:     {},
}
