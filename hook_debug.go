//go:build hashinator_debug
// +build hashinator_debug

package hashinator

import (
	"go.uber.org/zap"
)

const debug = true

func assertSorted(r *Ring) {
	es := r.block.Entries()
	for i := 1; i < len(es); i++ {
		if int32(es[i]>>32) <= int32(es[i-1]>>32) {
			panic("hashinator: internal error: ring entries are not sorted")
		}
	}
}

func setupRegistryTrace(r *Registry) {
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	log = log.Named("hashinator")

	r.trace = r.trace.Compose(traceRegistry{
		OnUpdate: func(version int64) traceRegistryUpdate {
			log.Debug("updating", zap.Int64("version", version))
			return traceRegistryUpdate{
				OnConstruct: func(cooked bool) func(error) {
					log.Debug("constructing ring", zap.Bool("cooked", cooked))
					return func(err error) {
						if err != nil {
							log.Debug("construction failed", zap.Error(err))
						}
					}
				},
				OnDone: func(installed bool, current int64) {
					log.Debug("updated",
						zap.Int64("version", version),
						zap.Bool("installed", installed),
						zap.Int64("current", current),
					)
				},
			}
		},
		OnUndo: func(from, to int64) func(bool) {
			log.Debug("undoing", zap.Int64("from", from), zap.Int64("to", to))
			return func(rolledBack bool) {
				log.Debug("undone", zap.Bool("rolled_back", rolledBack))
			}
		},
		OnPrune: func(version int64) {
			log.Debug("pruned", zap.Int64("version", version))
		},
	})
}
