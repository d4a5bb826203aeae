package hashinator

// traceRegistry holds optional callbacks fired by Registry.
// Callbacks returning functions are called on start of an operation and the
// returned function is called on its completion.
type traceRegistry struct {
	OnUpdate func(version int64) traceRegistryUpdate
	OnUndo   func(from, to int64) func(rolledBack bool)
	OnPrune  func(version int64)
}

type traceRegistryUpdate struct {
	OnConstruct func(cooked bool) func(error)
	OnDone      func(installed bool, current int64)
}

// Compose returns a trace which calls callbacks of t and then of x.
func (t traceRegistry) Compose(x traceRegistry) (ret traceRegistry) {
	switch {
	case t.OnUpdate == nil:
		ret.OnUpdate = x.OnUpdate
	case x.OnUpdate == nil:
		ret.OnUpdate = t.OnUpdate
	default:
		h1, h2 := t.OnUpdate, x.OnUpdate
		ret.OnUpdate = func(version int64) traceRegistryUpdate {
			return h1(version).Compose(h2(version))
		}
	}
	switch {
	case t.OnUndo == nil:
		ret.OnUndo = x.OnUndo
	case x.OnUndo == nil:
		ret.OnUndo = t.OnUndo
	default:
		h1, h2 := t.OnUndo, x.OnUndo
		ret.OnUndo = func(from, to int64) func(bool) {
			r1 := h1(from, to)
			r2 := h2(from, to)
			return func(rolledBack bool) {
				if r1 != nil {
					r1(rolledBack)
				}
				if r2 != nil {
					r2(rolledBack)
				}
			}
		}
	}
	switch {
	case t.OnPrune == nil:
		ret.OnPrune = x.OnPrune
	case x.OnPrune == nil:
		ret.OnPrune = t.OnPrune
	default:
		h1, h2 := t.OnPrune, x.OnPrune
		ret.OnPrune = func(version int64) {
			h1(version)
			h2(version)
		}
	}
	return ret
}

// Compose returns a trace which calls callbacks of t and then of x.
func (t traceRegistryUpdate) Compose(x traceRegistryUpdate) (ret traceRegistryUpdate) {
	switch {
	case t.OnConstruct == nil:
		ret.OnConstruct = x.OnConstruct
	case x.OnConstruct == nil:
		ret.OnConstruct = t.OnConstruct
	default:
		h1, h2 := t.OnConstruct, x.OnConstruct
		ret.OnConstruct = func(cooked bool) func(error) {
			r1 := h1(cooked)
			r2 := h2(cooked)
			return func(err error) {
				if r1 != nil {
					r1(err)
				}
				if r2 != nil {
					r2(err)
				}
			}
		}
	}
	switch {
	case t.OnDone == nil:
		ret.OnDone = x.OnDone
	case x.OnDone == nil:
		ret.OnDone = t.OnDone
	default:
		h1, h2 := t.OnDone, x.OnDone
		ret.OnDone = func(installed bool, current int64) {
			h1(installed, current)
			h2(installed, current)
		}
	}
	return ret
}

func (t traceRegistry) onUpdate(version int64) traceRegistryUpdate {
	if t.OnUpdate == nil {
		return traceRegistryUpdate{}
	}
	return t.OnUpdate(version)
}

func (t traceRegistry) onUndo(from, to int64) func(bool) {
	var fn func(bool)
	if t.OnUndo != nil {
		fn = t.OnUndo(from, to)
	}
	if fn == nil {
		return func(bool) {}
	}
	return fn
}

func (t traceRegistry) onPrune(version int64) {
	if t.OnPrune != nil {
		t.OnPrune(version)
	}
}

func (t traceRegistryUpdate) onConstruct(cooked bool) func(error) {
	var fn func(error)
	if t.OnConstruct != nil {
		fn = t.OnConstruct(cooked)
	}
	if fn == nil {
		return func(error) {}
	}
	return fn
}

func (t traceRegistryUpdate) onDone(installed bool, current int64) {
	if t.OnDone != nil {
		t.OnDone(installed, current)
	}
}
