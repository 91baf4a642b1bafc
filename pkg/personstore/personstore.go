// Package personstore implements the durable representation of canonical
// Person records: a JSON snapshot file, an in-memory index set rebuilt on
// load, and the safe-write protocol that guards the snapshot against
// truncation or corruption (spec §4.4).
package personstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/personcrm/identity-engine/pkg/apperrors"
	"github.com/personcrm/identity-engine/pkg/models"
)

// maxBackups is the depth of the rolling backup retained alongside the
// snapshot file (spec §4.4: "retain a short rolling backup").
const maxBackups = 3

// corruptionDropThreshold is the fraction of records a write may drop
// before it is rejected as likely corruption (spec §4.4).
const corruptionDropThreshold = 0.5

// snapshot is the on-disk shape of the PersonStore: the full person set
// plus the merge chain and blocklist side tables (spec §4.4).
type snapshot struct {
	Persons    []*models.Person           `json:"persons"`
	MergeChain map[string]string          `json:"merge_chain"`
	Blocklist  []models.BlocklistEntry     `json:"blocklist"`
	SavedAt    time.Time                  `json:"saved_at"`
}

// Store is the PersonStore of spec §4.4. All exported methods are safe for
// concurrent use; the store itself enforces the single-writer discipline
// described in spec §5 via its internal mutex.
type Store struct {
	mu     sync.RWMutex
	path   string
	logger *zap.Logger

	byID    map[uuid.UUID]*models.Person
	byEmail map[string]uuid.UUID
	byPhone map[string]uuid.UUID
	byName  map[string]uuid.UUID

	chain     *models.MergeChain
	blocklist *models.Blocklist
}

// New returns an empty Store bound to path. Call Load to hydrate from an
// existing snapshot, or Save to create the first one.
func New(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:      path,
		logger:    logger,
		byID:      make(map[uuid.UUID]*models.Person),
		byEmail:   make(map[string]uuid.UUID),
		byPhone:   make(map[string]uuid.UUID),
		byName:    make(map[string]uuid.UUID),
		chain:     models.NewMergeChain(logger),
		blocklist: models.NewBlocklist(),
	}
}

// Load reads the snapshot file at path and rebuilds the in-memory indexes.
// A missing file is not an error: the store starts empty.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("person store snapshot not found, starting empty", zap.String("path", s.path))
			return nil
		}
		return fmt.Errorf("personstore: read %s: %w", s.path, err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("personstore: parse %s: %w", s.path, err)
	}

	s.rebuildLocked(&snap)
	s.logger.Info("person store loaded", zap.Int("persons", len(snap.Persons)), zap.String("path", s.path))
	return nil
}

func (s *Store) rebuildLocked(snap *snapshot) {
	s.byID = make(map[uuid.UUID]*models.Person, len(snap.Persons))
	s.byEmail = make(map[string]uuid.UUID)
	s.byPhone = make(map[string]uuid.UUID)
	s.byName = make(map[string]uuid.UUID)

	for _, p := range snap.Persons {
		s.byID[p.ID] = p
		s.indexPersonLocked(p)
	}

	chain := make(map[uuid.UUID]uuid.UUID, len(snap.MergeChain))
	for secondaryStr, primaryStr := range snap.MergeChain {
		secondary, err1 := uuid.Parse(secondaryStr)
		primary, err2 := uuid.Parse(primaryStr)
		if err1 != nil || err2 != nil {
			continue
		}
		chain[secondary] = primary
	}
	s.chain = models.NewMergeChain(s.logger)
	s.chain.LoadSnapshot(chain)

	s.blocklist = models.NewBlocklist()
	for _, e := range snap.Blocklist {
		s.blocklist.Add(e)
	}
}

func (s *Store) indexPersonLocked(p *models.Person) {
	for _, e := range p.Emails {
		s.byEmail[strings.ToLower(e)] = p.ID
	}
	for _, ph := range p.PhoneNumbers {
		s.byPhone[ph] = p.ID
	}
	for _, n := range p.AllNameStrings() {
		s.byName[strings.ToLower(n)] = p.ID
	}
}

func (s *Store) deindexPersonLocked(p *models.Person) {
	for _, e := range p.Emails {
		if s.byEmail[strings.ToLower(e)] == p.ID {
			delete(s.byEmail, strings.ToLower(e))
		}
	}
	for _, ph := range p.PhoneNumbers {
		if s.byPhone[ph] == p.ID {
			delete(s.byPhone, ph)
		}
	}
	for _, n := range p.AllNameStrings() {
		if s.byName[strings.ToLower(n)] == p.ID {
			delete(s.byName, strings.ToLower(n))
		}
	}
}

// Add stores a deep copy of p and updates every index. Rejects p if any of
// its emails or phone numbers are blocklisted (spec §4.4).
func (s *Store) Add(p *models.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range p.Emails {
		if s.blocklist.Contains(models.BlocklistEmail, e) {
			return fmt.Errorf("personstore: add %s: %w", e, apperrors.ErrBlocked)
		}
	}
	for _, ph := range p.PhoneNumbers {
		if s.blocklist.Contains(models.BlocklistPhone, ph) {
			return fmt.Errorf("personstore: add %s: %w", ph, apperrors.ErrBlocked)
		}
	}

	cp := p.Clone()
	s.byID[cp.ID] = cp
	s.indexPersonLocked(cp)
	return nil
}

// Update replaces the stored record for p.ID, removing the prior version's
// index entries before writing the new ones.
func (s *Store) Update(p *models.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[p.ID]
	if !ok {
		return fmt.Errorf("personstore: update %s: %w", p.ID, apperrors.ErrNotFound)
	}
	s.deindexPersonLocked(old)

	cp := p.Clone()
	s.byID[cp.ID] = cp
	s.indexPersonLocked(cp)
	return nil
}

// Delete removes id from by_id and every index. Used only by MergeEngine.
func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("personstore: delete %s: %w", id, apperrors.ErrNotFound)
	}
	s.deindexPersonLocked(p)
	delete(s.byID, id)
	return nil
}

// GetByID follows the merge chain transitively (cycle-guarded) and returns
// a deep copy of the terminal record.
func (s *Store) GetByID(id uuid.UUID) (*models.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resolved := s.chain.Resolve(id)
	p, ok := s.byID[resolved]
	if !ok {
		return nil, fmt.Errorf("personstore: get %s: %w", id, apperrors.ErrNotFound)
	}
	return p.Clone(), nil
}

// GetByEmail resolves email via the email index, then GetByID.
func (s *Store) GetByEmail(email string) (*models.Person, error) {
	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("personstore: get by email %s: %w", email, apperrors.ErrNotFound)
	}
	return s.GetByID(id)
}

// GetByPhone resolves phone via the phone index, then GetByID.
func (s *Store) GetByPhone(phone string) (*models.Person, error) {
	s.mu.RLock()
	id, ok := s.byPhone[phone]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("personstore: get by phone %s: %w", phone, apperrors.ErrNotFound)
	}
	return s.GetByID(id)
}

// GetByName resolves name via the name index (canonical_name or alias),
// then GetByID.
func (s *Store) GetByName(name string) (*models.Person, error) {
	s.mu.RLock()
	id, ok := s.byName[strings.ToLower(name)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("personstore: get by name %s: %w", name, apperrors.ErrNotFound)
	}
	return s.GetByID(id)
}

// SearchOptions configures Search.
type SearchOptions struct {
	Limit          int
	IncludeHidden  bool
	IncludeMergedAway bool
}

// Search performs a case-insensitive substring match over canonical name,
// display name, emails, and aliases, excluding hidden and merged-away
// records unless asked, sorted by (last_seen desc, canonical_name asc).
func (s *Store) Search(q string, opts SearchOptions) []*models.Person {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(q))
	var results []*models.Person

	for id, p := range s.byID {
		if !opts.IncludeMergedAway && s.chain.IsRedirected(id) {
			continue
		}
		if p.Hidden && !opts.IncludeHidden {
			continue
		}
		if needle != "" && !personMatches(p, needle) {
			continue
		}
		results = append(results, p.Clone())
	}

	sort.Slice(results, func(i, j int) bool {
		if !results[i].LastSeen.Equal(results[j].LastSeen) {
			return results[i].LastSeen.After(results[j].LastSeen)
		}
		return results[i].CanonicalName < results[j].CanonicalName
	})

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}

func personMatches(p *models.Person, needle string) bool {
	if strings.Contains(strings.ToLower(p.CanonicalName), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(p.DisplayName), needle) {
		return true
	}
	for _, e := range p.Emails {
		if strings.Contains(strings.ToLower(e), needle) {
			return true
		}
	}
	for _, a := range p.Aliases {
		if strings.Contains(strings.ToLower(a), needle) {
			return true
		}
	}
	return false
}

// Hide marks id as hidden, blocklists every identifier on the record, and
// persists.
func (s *Store) Hide(id uuid.UUID, reason string) error {
	s.mu.Lock()
	resolved := s.chain.Resolve(id)
	p, ok := s.byID[resolved]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("personstore: hide %s: %w", id, apperrors.ErrNotFound)
	}

	now := time.Now()
	p.Hidden = true
	p.HiddenAt = &now
	p.HiddenReason = reason

	for _, e := range p.Emails {
		s.blocklist.Add(models.BlocklistEntry{Identifier: e, IdentifierType: models.BlocklistEmail, Reason: reason})
	}
	for _, ph := range p.PhoneNumbers {
		s.blocklist.Add(models.BlocklistEntry{Identifier: ph, IdentifierType: models.BlocklistPhone, Reason: reason})
	}
	s.mu.Unlock()

	return s.Save()
}

// RecordMerge durably records secondary -> primary in the merge chain.
// Callers (MergeEngine) are responsible for moving interactions, source
// entities, and relationships before calling this.
func (s *Store) RecordMerge(secondary, primary uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chain.Record(secondary, primary)
}

// ResolveID follows the merge chain for id without requiring the record to
// still exist in by_id; used by callers validating foreign ids.
func (s *Store) ResolveID(id uuid.UUID) uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chain.Resolve(id)
}

// Blocklist exposes the underlying blocklist for read-only checks by the
// resolver (e.g. before creating a new person from an observation).
func (s *Store) Blocklist() *models.Blocklist {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocklist
}

// Save writes the current in-memory state to disk using the safe-write
// protocol: write to a temp file in the same directory, re-parse and
// verify record count, atomically rename over the target, and retain a
// rolling backup (spec §4.4, §5).
func (s *Store) Save() error {
	s.mu.RLock()
	snap := s.buildSnapshotLocked()
	s.mu.RUnlock()

	return s.writeSnapshot(snap, false)
}

// Purge is identical to Save but explicitly exempts the write from the
// corruption-drop guard, for operations that intentionally shrink the
// record set (bulk deletes, test fixtures).
func (s *Store) Purge() error {
	s.mu.RLock()
	snap := s.buildSnapshotLocked()
	s.mu.RUnlock()

	return s.writeSnapshot(snap, true)
}

func (s *Store) buildSnapshotLocked() *snapshot {
	persons := make([]*models.Person, 0, len(s.byID))
	for _, p := range s.byID {
		persons = append(persons, p)
	}
	sort.Slice(persons, func(i, j int) bool { return persons[i].ID.String() < persons[j].ID.String() })

	chainMap := s.chain.Snapshot()
	chain := make(map[string]string, len(chainMap))
	for secondary, primary := range chainMap {
		chain[secondary.String()] = primary.String()
	}

	return &snapshot{
		Persons:    persons,
		MergeChain: chain,
		Blocklist:  s.blocklist.All(),
		SavedAt:    time.Now(),
	}
}

// previousRecordCount re-parses the existing snapshot file (if any) to
// determine the record count the corruption guard compares against.
func (s *Store) previousRecordCount() (int, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, false
	}
	var prev snapshot
	if err := json.Unmarshal(data, &prev); err != nil {
		return 0, false
	}
	return len(prev.Persons), true
}

func (s *Store) writeSnapshot(snap *snapshot, isPurge bool) error {
	if prevCount, ok := s.previousRecordCount(); ok && prevCount > 0 && !isPurge {
		dropped := float64(prevCount-len(snap.Persons)) / float64(prevCount)
		if dropped > corruptionDropThreshold {
			s.logger.Error("person store write rejected: corruption guard tripped",
				zap.Int("previous_count", prevCount), zap.Int("new_count", len(snap.Persons)))
			return fmt.Errorf("personstore: write of %d records (was %d): %w", len(snap.Persons), prevCount, apperrors.ErrCorruptionGuard)
		}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("personstore: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("personstore: create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".personstore-*.tmp")
	if err != nil {
		return fmt.Errorf("personstore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("personstore: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("personstore: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("personstore: close temp file: %w", err)
	}

	// Re-parse and verify record count before committing.
	verifyData, err := os.ReadFile(tmpPath)
	if err != nil {
		return fmt.Errorf("personstore: reread temp file: %w", err)
	}
	var verify snapshot
	if err := json.Unmarshal(verifyData, &verify); err != nil {
		return fmt.Errorf("personstore: verify temp file: %w", err)
	}
	if len(verify.Persons) != len(snap.Persons) {
		return fmt.Errorf("personstore: verify temp file: wrote %d records, read back %d", len(snap.Persons), len(verify.Persons))
	}

	s.rotateBackupsLocked()

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("personstore: rename temp file over %s: %w", s.path, err)
	}

	s.logger.Info("person store saved", zap.Int("persons", len(snap.Persons)), zap.String("path", s.path))
	return nil
}

// rotateBackupsLocked shifts .bak.N files up by one, keeping maxBackups
// generations, then copies the current snapshot to .bak.1.
func (s *Store) rotateBackupsLocked() {
	if _, err := os.Stat(s.path); err != nil {
		return
	}
	for n := maxBackups; n >= 1; n-- {
		src := fmt.Sprintf("%s.bak.%d", s.path, n)
		if n == maxBackups {
			os.Remove(src)
			continue
		}
		dst := fmt.Sprintf("%s.bak.%d", s.path, n+1)
		os.Rename(src, dst)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	_ = os.WriteFile(fmt.Sprintf("%s.bak.1", s.path), data, 0o644)
}

// Count returns the number of Person records currently held, not counting
// merged-away ids redirected by the merge chain.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
