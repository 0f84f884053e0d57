package core

import "recordcore/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewSolePIRule())
	engine.Register(NewGroupTeardownRule())
	engine.Register(NewGrantIntegrityRule())
	return engine
}
