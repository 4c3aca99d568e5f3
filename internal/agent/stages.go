package agent

// Backends are the stage implementations a Router is built from.
type Backends struct {
	Extractor *Extractor
	Market    *MarketResearcher
	Script    *ScriptWriter
	ARoll     *HeyGenClient
	BRoll     *VeoClient
}

// Router registers every configured backend under its stage name.
func (b Backends) Router() *Router {
	r := NewRouter()
	if b.Extractor != nil {
		r.Handle(StageExtraction, Typed(b.Extractor.Run))
	}
	if b.Market != nil {
		r.Handle(StageMarket, Typed(b.Market.Run))
	}
	if b.Script != nil {
		r.Handle(StageScript, Typed(b.Script.Run))
		r.Handle(StageRevision, Typed(b.Script.Run))
	}
	if b.ARoll != nil {
		r.Handle(StageARoll, Typed(b.ARoll.Generate))
	}
	if b.BRoll != nil {
		r.Handle(StageBRoll, Typed(b.BRoll.Generate))
	}
	return r
}
