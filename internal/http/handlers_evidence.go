package http

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"sumarte/internal/api"
	"sumarte/internal/core"
	"sumarte/internal/log"
	"sumarte/internal/session"
)

type evidenceView struct {
	Page
	Active    []core.Evidence
	Deleted   []core.Evidence
	ReadOnly  bool
	MaxSizeMB int
	Errors    map[string]string
}

// multipartMemory is kept in memory before spilling to temp files.
const multipartMemory = 1 << 20

func (s *Server) loadEvidence(r *http.Request, sess *session.Session, projectID int64) (evidenceView, error) {
	var (
		project  core.Project
		evidence []core.Evidence
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		project, err = sess.Client.GetProject(ctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		evidence, err = sess.Client.ListEvidence(ctx, projectID)
		return err
	})
	if err := g.Wait(); err != nil {
		return evidenceView{}, err
	}

	view := evidenceView{
		Page:      s.page(sess, "Evidence", &project, "evidence"),
		ReadOnly:  core.IsReadOnly(project.Status),
		MaxSizeMB: core.MaxEvidenceSize >> 20,
	}
	for _, ev := range evidence {
		if ev.Deleted {
			view.Deleted = append(view.Deleted, ev)
		} else {
			view.Active = append(view.Active, ev)
		}
	}
	return view, nil
}

func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	view, err := s.loadEvidence(r, sess, projectID)
	if err != nil {
		s.respondError(w, r, sess, log.OpList, err)
		return
	}
	s.render(w, r, http.StatusOK, "evidence.html", view)
}

// handleEvidenceUpload checks the file locally and forwards it to the
// backend as multipart.
func (s *Server) handleEvidenceUpload(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, core.MaxEvidenceSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ErrorResponse(http.StatusRequestEntityTooLarge, core.ErrFileTooLarge.Error()).Write(w)
			return
		}
		BadRequestError("invalid upload").Write(w)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		UnprocessableEntityError("file: please choose a file").Write(w)
		return
	}
	defer file.Close()

	form := evidenceForm{Name: sanitizeInput(r.FormValue("name"))}
	if form.Name == "" {
		form.Name = strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename))
	}
	if errs := s.forms.Validate(form); errs != nil {
		UnprocessableEntityError("name: " + errs["name"]).Write(w)
		return
	}
	if err := core.ValidateEvidenceUpload(header.Filename, header.Size); err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}
	if _, err := s.guardWritable(ctx, sess, projectID); err != nil {
		s.respondError(w, r, sess, log.OpUpload, err)
		return
	}

	ev, err := sess.Client.UploadEvidence(ctx, api.EvidenceUpload{
		ProjectID: projectID,
		Name:      form.Name,
		Filename:  filepath.Base(header.Filename),
		Size:      header.Size,
		Content:   file,
	})
	if err != nil {
		s.respondError(w, r, sess, log.OpUpload, err)
		return
	}
	s.audit.LogMutation(ctx, log.OpUpload, projectID, sess.User.Username, log.LogFields{log.FieldEvidenceID: ev.ID})
	s.evidenceList(w, r, sess, projectID, "evidence uploaded")
}

func (s *Server) handleEvidenceDelete(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	s.evidenceMutation(w, r, sess, projectID, log.OpDelete, func(id int64) error {
		return sess.Client.DeleteEvidence(r.Context(), id)
	}, "evidence deleted")
}

func (s *Server) handleEvidenceRestore(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	s.evidenceMutation(w, r, sess, projectID, log.OpUpdate, func(id int64) error {
		_, err := sess.Client.RestoreEvidence(r.Context(), id)
		return err
	}, "evidence restored")
}

func (s *Server) evidenceMutation(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64,
	op string, do func(int64) error, message string) {
	id, err := pathID(r, "evID")
	if err != nil {
		s.respondError(w, r, sess, op, api.ErrNotFound)
		return
	}
	if _, err := s.guardWritable(r.Context(), sess, projectID); err != nil {
		s.respondError(w, r, sess, op, err)
		return
	}
	if err := do(id); err != nil {
		s.respondError(w, r, sess, op, err)
		return
	}
	s.audit.LogMutation(r.Context(), op, projectID, sess.User.Username, log.LogFields{log.FieldEvidenceID: id})
	s.evidenceList(w, r, sess, projectID, message)
}

// evidenceList answers an evidence mutation with the refreshed list.
func (s *Server) evidenceList(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64, message string) {
	view, err := s.loadEvidence(r, sess, projectID)
	if err != nil {
		s.respondError(w, r, sess, log.OpList, err)
		return
	}
	body, err := s.fragment("evidence-list", view)
	if err != nil {
		s.templateFailure(w, r, "evidence-list", err)
		return
	}
	s.succeed(w, r, projectPath(projectID, "evidence"), message, body, projectID)
}
