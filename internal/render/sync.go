package render

import (
	"fmt"

	"github.com/p-blackswan/studyplan/internal/plan"
	"github.com/p-blackswan/studyplan/internal/state"
)

// SyncResult reports what SyncWithState found and did.
type SyncResult struct {
	Project *plan.Project
	State   state.State
	Notes   []string
}

// SyncWithState re-reads state.json from dir, applies it to the project's
// unit statuses, persists project.json and re-renders every document. A
// missing or corrupt state file is treated as no progress.
func (r *Renderer) SyncWithState(dir string) (*SyncResult, error) {
	p, err := plan.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	loaded := state.Load(dir)
	res := &SyncResult{}
	if loaded.Note != "" {
		r.logger.Warn().Str("dir", dir).Msg(loaded.Note)
		res.Notes = append(res.Notes, loaded.Note)
	}
	st, note := state.Reconcile(loaded.State, p.UnitCount())
	if note != "" && !loaded.Recovered {
		r.logger.Info().Str("dir", dir).Msg(note)
		res.Notes = append(res.Notes, note)
	}
	if st.ProjectID == "" {
		st.ProjectID = p.ID
	}

	synced := ApplyState(p, st)
	if statusesDiffer(p, synced) {
		if err := plan.Save(dir, synced); err != nil {
			return nil, err
		}
	}
	if err := r.Render(dir, synced, st); err != nil {
		return nil, err
	}
	res.Project = synced
	res.State = st
	return res, nil
}

func statusesDiffer(a, b *plan.Project) bool {
	for i := range a.Units {
		if a.Units[i].Status != b.Units[i].Status {
			return true
		}
	}
	return false
}
