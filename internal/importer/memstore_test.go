package importer_test

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edumark/sheetscan/internal/store"
	"github.com/edumark/sheetscan/pkg/models"
)

// memStore is an in-memory Store for importer tests, mirroring the
// transactional semantics of the Postgres implementation.
type memStore struct {
	mu           sync.Mutex
	subjects     map[uuid.UUID]*models.Subject
	lists        map[uuid.UUID]*models.ParticipantList
	participants map[uuid.UUID]*models.Participant
	jobs         map[uuid.UUID]*models.Job
	jobFiles     map[uuid.UUID]*models.JobFile
	pages        map[uuid.UUID]*models.ScannedPage
	corners      map[uuid.UUID][]models.PageCorner
	choices      map[uuid.UUID][]models.Choice
	results      map[uuid.UUID]*models.Result
}

func newMemStore() *memStore {
	return &memStore{
		subjects:     make(map[uuid.UUID]*models.Subject),
		lists:        make(map[uuid.UUID]*models.ParticipantList),
		participants: make(map[uuid.UUID]*models.Participant),
		jobs:         make(map[uuid.UUID]*models.Job),
		jobFiles:     make(map[uuid.UUID]*models.JobFile),
		pages:        make(map[uuid.UUID]*models.ScannedPage),
		corners:      make(map[uuid.UUID][]models.PageCorner),
		choices:      make(map[uuid.UUID][]models.Choice),
		results:      make(map[uuid.UUID]*models.Result),
	}
}

var _ store.Store = (*memStore)(nil)

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) GetSubject(_ context.Context, id uuid.UUID) (*models.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) GetDefaultSubject(ctx context.Context) (*models.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subjects {
		if s.Name == "default" {
			cp := *s
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) CreateSubject(_ context.Context, s *models.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.subjects[s.ID] = &cp
	return nil
}

func (m *memStore) CreateParticipantList(_ context.Context, l *models.ParticipantList) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.lists {
		if ex.SubjectID == l.SubjectID && ex.ListNumber == l.ListNumber {
			return store.ErrDuplicateKey
		}
	}
	cp := *l
	m.lists[l.ID] = &cp
	return nil
}

func (m *memStore) GetParticipantList(_ context.Context, id uuid.UUID) (*models.ParticipantList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) ListParticipantLists(_ context.Context, subjectID uuid.UUID) ([]*models.ParticipantList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ParticipantList
	for _, l := range m.lists {
		if l.SubjectID == subjectID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ListNumber < out[j].ListNumber })
	return out, nil
}

func (m *memStore) SetListFilename(_ context.Context, listID uuid.UUID, filename *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[listID]
	if !ok {
		return store.ErrNotFound
	}
	l.Filename = filename
	return nil
}

func (m *memStore) CreateParticipants(_ context.Context, ps []*models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ps {
		cp := *p
		m.participants[p.ID] = &cp
	}
	return nil
}

func (m *memStore) ListParticipants(_ context.Context, listID uuid.UUID) ([]*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Participant
	for _, p := range m.participants {
		if p.ListID == listID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastName < out[j].LastName })
	return out, nil
}

func (m *memStore) subjectListIDs(subjectID uuid.UUID) map[uuid.UUID]bool {
	ids := make(map[uuid.UUID]bool)
	for _, l := range m.lists {
		if l.SubjectID == subjectID {
			ids[l.ID] = true
		}
	}
	return ids
}

func (m *memStore) FindParticipantsByUserkey(_ context.Context, subjectID uuid.UUID, userkey uint32) ([]*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lists := m.subjectListIDs(subjectID)
	var out []*models.Participant
	for _, p := range m.participants {
		if lists[p.ListID] && p.Userkey == userkey {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) FindParticipantsByUserID(_ context.Context, subjectID uuid.UUID, userID string) ([]*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lists := m.subjectListIDs(subjectID)
	var out []*models.Participant
	for _, p := range m.participants {
		if lists[p.ListID] && p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) SetParticipantChecked(_ context.Context, id uuid.UUID, checked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Checked = checked
	return nil
}

func (m *memStore) CreateJob(_ context.Context, j *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *memStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

var jobTransitions = map[string][]string{
	models.JobStatusNew:        {models.JobStatusProcessing},
	models.JobStatusProcessing: {models.JobStatusDone, models.JobStatusError},
}

var jobFileTransitions = map[string][]string{
	models.JobFileStatusNew:        {models.JobFileStatusProcessing},
	models.JobFileStatusProcessing: {models.JobFileStatusOK, models.JobFileStatusError},
}

func allowed(transitions map[string][]string, from, to string) bool {
	for _, a := range transitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func (m *memStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if !allowed(jobTransitions, j.Status, status) {
		return store.ErrInvalidTransition
	}
	now := time.Now().UTC()
	j.Status = status
	if status == models.JobStatusProcessing {
		j.StartedAt = &now
	} else {
		j.FinishedAt = &now
	}
	return nil
}

func (m *memStore) ClaimNextJob(ctx context.Context) (*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *models.Job
	for _, j := range m.jobs {
		if j.Status != models.JobStatusNew {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, store.ErrNotFound
	}
	now := time.Now().UTC()
	oldest.Status = models.JobStatusProcessing
	oldest.StartedAt = &now
	cp := *oldest
	return &cp, nil
}

func (m *memStore) ReleaseJob(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobStatusProcessing {
		return store.ErrNotFound
	}
	j.Status = models.JobStatusNew
	j.StartedAt = nil
	return nil
}

func (m *memStore) TouchJob(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok && j.Status == models.JobStatusProcessing {
		now := time.Now().UTC()
		j.StartedAt = &now
	}
	return nil
}

func (m *memStore) ResetProcessingFiles(_ context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.jobFiles {
		if f.JobID == jobID && f.Status == models.JobFileStatusProcessing {
			f.Status = models.JobFileStatusNew
		}
	}
	return nil
}

func (m *memStore) AddJobFiles(_ context.Context, files []*models.JobFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range files {
		cp := *f
		m.jobFiles[f.ID] = &cp
	}
	return nil
}

func (m *memStore) NextFileBatch(_ context.Context, jobID uuid.UUID, afterPosition, limit int) ([]*models.JobFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.JobFile
	for _, f := range m.jobFiles {
		if f.JobID == jobID && f.Position > afterPosition {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) MarkJobFile(_ context.Context, fileID uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.jobFiles[fileID]
	if !ok {
		return store.ErrNotFound
	}
	if !allowed(jobFileTransitions, f.Status, status) {
		return store.ErrInvalidTransition
	}
	f.Status = status
	return nil
}

func (m *memStore) JobCounts(_ context.Context, jobID uuid.UUID) (models.JobCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c models.JobCounts
	for _, f := range m.jobFiles {
		if f.JobID != jobID {
			continue
		}
		c.Total++
		switch f.Status {
		case models.JobFileStatusNew:
			c.New++
		case models.JobFileStatusProcessing:
			c.Processing++
		case models.JobFileStatusOK:
			c.OK++
		case models.JobFileStatusError:
			c.Error++
		}
	}
	return c, nil
}

func (m *memStore) DeleteJob(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.jobs, id)
	for fid, f := range m.jobFiles {
		if f.JobID == id {
			delete(m.jobFiles, fid)
		}
	}
	return nil
}

func (m *memStore) CreateScannedPage(_ context.Context, p *models.ScannedPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.pages[p.ID] = &cp
	return nil
}

func (m *memStore) GetScannedPage(_ context.Context, id uuid.UUID) (*models.ScannedPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) UpdateScannedPage(_ context.Context, p *models.ScannedPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pages[p.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *p
	m.pages[p.ID] = &cp
	return nil
}

func (m *memStore) FindSubmittedPage(_ context.Context, subjectID uuid.UUID, userkey string, pageNumber int) (*models.ScannedPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pages {
		if p.SubjectID == subjectID && p.Userkey == userkey &&
			p.PageNumber == pageNumber && p.Status == models.PageStatusSubmitted {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) listByStatus(subjectID uuid.UUID, userkey, status string) []*models.ScannedPage {
	var out []*models.ScannedPage
	for _, p := range m.pages {
		if p.SubjectID == subjectID && p.Userkey == userkey && p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNumber < out[j].PageNumber })
	return out
}

func (m *memStore) ListSubmittedPages(_ context.Context, subjectID uuid.UUID, userkey string) ([]*models.ScannedPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listByStatus(subjectID, userkey, models.PageStatusSubmitted), nil
}

func (m *memStore) ListSuspendedPages(_ context.Context, subjectID uuid.UUID, userkey string) ([]*models.ScannedPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listByStatus(subjectID, userkey, models.PageStatusSuspended), nil
}

func (m *memStore) ListErrorPages(_ context.Context, filter store.ErrorPageFilter) ([]*models.ScannedPage, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ScannedPage
	for _, p := range m.pages {
		if p.SubjectID != filter.SubjectID {
			continue
		}
		if p.Status != models.PageStatusError && p.Status != models.PageStatusSuspended {
			continue
		}
		if filter.Initial != "" && !strings.HasPrefix(p.Userkey, filter.Initial) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	if filter.SortBy == "userkey" {
		sort.Slice(out, func(i, j int) bool { return out[i].Userkey < out[j].Userkey })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}
	total := len(out)
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	start := 0
	if filter.Page > 1 {
		start = (filter.Page - 1) * limit
	}
	if start > len(out) {
		start = len(out)
	}
	end := start + limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (m *memStore) SavePageCorners(_ context.Context, pageID uuid.UUID, corners []models.PageCorner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corners[pageID] = append([]models.PageCorner(nil), corners...)
	return nil
}

func (m *memStore) GetPageCorners(_ context.Context, pageID uuid.UUID) ([]*models.PageCorner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PageCorner
	for i := range m.corners[pageID] {
		cp := m.corners[pageID][i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) SaveChoices(_ context.Context, pageID uuid.UUID, choices []models.Choice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.choices[pageID] = append([]models.Choice(nil), choices...)
	return nil
}

func (m *memStore) GetChoices(_ context.Context, pageID uuid.UUID) ([]*models.Choice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Choice
	for i := range m.choices[pageID] {
		cp := m.choices[pageID][i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) CommitPage(_ context.Context, page *models.ScannedPage, choices []models.Choice, corners []models.PageCorner, expectedPages int) (*models.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.pages[page.ID]
	if !ok {
		return nil, store.ErrNotFound
	}

	var result *models.Result
	for _, r := range m.results {
		if r.SubjectID == page.SubjectID && r.UserID == page.Userkey {
			result = r
			break
		}
	}
	if result == nil {
		result = &models.Result{
			ID:        uuid.New(),
			SubjectID: page.SubjectID,
			UserID:    page.Userkey,
			Status:    models.ResultStatusNew,
			CreatedAt: time.Now().UTC(),
		}
		m.results[result.ID] = result
	}

	page.ResultID = &result.ID
	page.Status = models.PageStatusSubmitted
	page.ErrorCode = nil
	cp := *page
	*stored = cp

	m.choices[page.ID] = append([]models.Choice(nil), choices...)
	m.corners[page.ID] = append([]models.PageCorner(nil), corners...)

	sum := 0
	pageNumbers := make(map[int]bool)
	for _, p := range m.pages {
		if p.ResultID == nil || *p.ResultID != result.ID || p.Status != models.PageStatusSubmitted {
			continue
		}
		pageNumbers[p.PageNumber] = true
		for _, c := range m.choices[p.ID] {
			if c.Checked {
				sum++
			}
		}
	}
	result.SumMarks = sum
	if len(pageNumbers) >= expectedPages {
		now := time.Now().UTC()
		result.Status = models.ResultStatusComplete
		result.FinishedAt = &now
	} else {
		result.Status = models.ResultStatusNew
		result.FinishedAt = nil
	}
	out := *result
	return &out, nil
}

func (m *memStore) DeleteScannedPage(_ context.Context, pageID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pages[pageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	var files []string
	if p.Filename != "" {
		files = append(files, p.Filename)
	}
	if p.WarningFilename != nil && *p.WarningFilename != "" {
		files = append(files, *p.WarningFilename)
	}
	resultID := p.ResultID
	delete(m.pages, pageID)
	delete(m.choices, pageID)
	delete(m.corners, pageID)

	if resultID != nil {
		remaining := 0
		for _, other := range m.pages {
			if other.ResultID != nil && *other.ResultID == *resultID {
				remaining++
			}
		}
		if remaining == 0 {
			delete(m.results, *resultID)
		} else if r, ok := m.results[*resultID]; ok {
			sum := 0
			for _, other := range m.pages {
				if other.ResultID != nil && *other.ResultID == *resultID && other.Status == models.PageStatusSubmitted {
					for _, c := range m.choices[other.ID] {
						if c.Checked {
							sum++
						}
					}
				}
			}
			r.SumMarks = sum
			r.Status = models.ResultStatusNew
			r.FinishedAt = nil
		}
	}
	return files, nil
}

func (m *memStore) GetResult(_ context.Context, id uuid.UUID) (*models.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) GetResultByUser(_ context.Context, subjectID uuid.UUID, userID string) (*models.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.results {
		if r.SubjectID == subjectID && r.UserID == userID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}
