package http

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"sumarte/internal/api"
	"sumarte/internal/core"
	"sumarte/internal/log"
	"sumarte/internal/session"
)

// budgetView backs the budget editor. Totals are always recomputed from
// Drafts.
type budgetView struct {
	Page
	Drafts     []core.ItemDraft
	Errors     map[string]string
	Budget     core.Amount
	Allocated  core.Amount
	Available  core.Amount
	OverBudget bool
	ReadOnly   bool
}

func (s *Server) newBudgetView(sess *session.Session, p core.Project, drafts []core.ItemDraft, errs []core.FieldError) budgetView {
	allocated := core.TotalAllocated(drafts)
	return budgetView{
		Page:       s.page(sess, "Budget", &p, "budget"),
		Drafts:     drafts,
		Errors:     core.ErrorsByField(errs),
		Budget:     p.TotalBudget,
		Allocated:  allocated,
		Available:  p.TotalBudget.Sub(allocated),
		OverBudget: allocated.GreaterThan(p.TotalBudget),
		ReadOnly:   core.IsReadOnly(p.Status),
	}
}

func (s *Server) loadBudget(ctx context.Context, sess *session.Session, projectID int64) (core.Project, []core.BudgetItem, error) {
	var (
		project core.Project
		items   []core.BudgetItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		project, err = sess.Client.GetProject(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		items, err = sess.Client.ListItems(gctx, projectID)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.Project{}, nil, err
	}
	return project, items, nil
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	project, items, err := s.loadBudget(r.Context(), sess, projectID)
	if err != nil {
		s.respondError(w, r, sess, log.OpRead, err)
		return
	}
	s.render(w, r, http.StatusOK, "budget.html", s.newBudgetView(sess, project, core.DraftsFromItems(items), nil))
}

// handleBudgetValidate re-renders the editor from the submitted draft. A
// cmd value adds or removes a row first; in that case only the global
// error is shown so a fresh empty row is not flagged.
func (s *Server) handleBudgetValidate(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	if err := r.ParseForm(); err != nil {
		BadRequestError("invalid form").Write(w)
		return
	}
	project, err := sess.Client.GetProject(r.Context(), projectID)
	if err != nil {
		s.respondError(w, r, sess, log.OpValidate, err)
		return
	}

	drafts := ParseBudgetForm(r.PostForm)
	cmd := r.PostForm.Get("cmd")
	if cmd != "" {
		drafts = ApplyEditorCommand(drafts, cmd)
	}
	errs := core.ValidateBudgetStructure(project.TotalBudget, drafts, s.locale)
	if cmd != "" {
		errs = globalOnly(errs)
	}
	s.renderFragment(w, r, "budget-editor", s.newBudgetView(sess, project, drafts, errs))
}

func globalOnly(errs []core.FieldError) []core.FieldError {
	var out []core.FieldError
	for _, e := range errs {
		if e.Field == "" {
			out = append(out, e)
		}
	}
	return out
}

// handleBudgetSave validates the whole structure and, when it is clean,
// writes it to the backend and re-reads it.
func (s *Server) handleBudgetSave(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		BadRequestError("invalid form").Write(w)
		return
	}
	project, err := s.guardWritable(ctx, sess, projectID)
	if err != nil {
		s.respondError(w, r, sess, log.OpUpdate, err)
		return
	}

	drafts := ParseBudgetForm(r.PostForm)
	if errs := core.ValidateBudgetStructure(project.TotalBudget, drafts, s.locale); len(errs) > 0 {
		view := s.newBudgetView(sess, project, drafts, errs)
		s.respondInvalid(w, r, view.Errors, "budget-editor", "budget.html", view)
		return
	}

	existing, err := sess.Client.ListItems(ctx, projectID)
	if err != nil {
		s.respondError(w, r, sess, log.OpUpdate, err)
		return
	}
	if err := saveBudget(ctx, sess.Client, projectID, drafts, existing); err != nil {
		if fields, ok := backendFieldErrors(err); ok {
			view := s.newBudgetView(sess, project, drafts, nil)
			view.Errors = fields
			s.respondInvalid(w, r, fields, "budget-editor", "budget.html", view)
			return
		}
		s.respondError(w, r, sess, log.OpUpdate, err)
		return
	}

	project, items, err := s.loadBudget(ctx, sess, projectID)
	if err != nil {
		s.respondError(w, r, sess, log.OpRead, err)
		return
	}
	s.audit.LogMutation(ctx, log.OpUpdate, projectID, sess.User.Username, log.LogFields{log.FieldItemCount: len(items)})

	body, err := s.fragment("budget-editor", s.newBudgetView(sess, project, core.DraftsFromItems(items), nil))
	if err != nil {
		s.templateFailure(w, r, "budget-editor", err)
		return
	}
	s.succeed(w, r, projectPath(projectID, "budget"), "budget saved", body, projectID)
}

// saveBudget applies drafts over existing. Rows absent from drafts are
// deleted first and shrinking items are saved before growing ones, so the
// backend's running allocation check never sees a transient overrun.
func saveBudget(ctx context.Context, client api.BudgetEditor, projectID int64, drafts []core.ItemDraft, existing []core.BudgetItem) error {
	keepItems := map[int64]bool{}
	keepSubs := map[int64]bool{}
	for _, d := range drafts {
		if d.ID != nil {
			keepItems[*d.ID] = true
		}
		for _, sd := range d.Subitems {
			if sd.ID != nil {
				keepSubs[*sd.ID] = true
			}
		}
	}

	current := map[int64]core.Amount{}
	for _, it := range existing {
		if it.ID == nil {
			continue
		}
		if !keepItems[*it.ID] {
			if err := client.DeleteItem(ctx, *it.ID); err != nil {
				return fmt.Errorf("delete item %q: %w", it.Name, err)
			}
			continue
		}
		current[*it.ID] = it.AssignedAmount
		for _, sub := range it.Subitems {
			if sub.ID != nil && !keepSubs[*sub.ID] {
				if err := client.DeleteSubitem(ctx, *sub.ID); err != nil {
					return fmt.Errorf("delete subitem %q: %w", sub.Name, err)
				}
			}
		}
	}

	ordered := append([]core.ItemDraft(nil), drafts...)
	shrinks := func(d core.ItemDraft) bool {
		if d.ID == nil {
			return false
		}
		old, ok := current[*d.ID]
		return ok && core.EffectiveAmount(d).Cmp(old) < 0
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return shrinks(ordered[i]) && !shrinks(ordered[j])
	})

	for _, d := range ordered {
		saved, err := client.SaveItem(ctx, core.BudgetItem{
			ID:             d.ID,
			ProjectID:      projectID,
			Name:           strings.TrimSpace(d.Name),
			AssignedAmount: core.EffectiveAmount(d),
			Category:       d.Category,
		})
		if err != nil {
			return fmt.Errorf("save item %q: %w", d.Name, err)
		}
		for _, sd := range d.Subitems {
			_, err := client.SaveSubitem(ctx, core.Subitem{
				ID:             sd.ID,
				ItemID:         derefID(saved.ID),
				Name:           strings.TrimSpace(sd.Name),
				AssignedAmount: core.ParseAmountOrZero(sd.Amount),
				Category:       sd.Category,
			})
			if err != nil {
				return fmt.Errorf("save subitem %q: %w", sd.Name, err)
			}
		}
	}
	return nil
}

func (s *Server) handleBudgetItemDelete(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	s.deleteBudgetRow(w, r, sess, projectID, "itemID", sess.Client.DeleteItem, "budget item deleted")
}

func (s *Server) handleBudgetSubitemDelete(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	s.deleteBudgetRow(w, r, sess, projectID, "subID", sess.Client.DeleteSubitem, "subitem deleted")
}

func (s *Server) deleteBudgetRow(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64,
	param string, del func(context.Context, int64) error, message string) {
	ctx := r.Context()
	id, err := pathID(r, param)
	if err != nil {
		s.respondError(w, r, sess, log.OpDelete, api.ErrNotFound)
		return
	}
	if _, err := s.guardWritable(ctx, sess, projectID); err != nil {
		s.respondError(w, r, sess, log.OpDelete, err)
		return
	}
	if err := del(ctx, id); err != nil {
		s.respondError(w, r, sess, log.OpDelete, err)
		return
	}
	s.audit.LogMutation(ctx, log.OpDelete, projectID, sess.User.Username, log.LogFields{param: id})

	project, items, err := s.loadBudget(ctx, sess, projectID)
	if err != nil {
		s.respondError(w, r, sess, log.OpRead, err)
		return
	}
	body, err := s.fragment("budget-editor", s.newBudgetView(sess, project, core.DraftsFromItems(items), nil))
	if err != nil {
		s.templateFailure(w, r, "budget-editor", err)
		return
	}
	s.succeed(w, r, projectPath(projectID, "budget"), message, body, projectID)
}
