// Package character persists the roleplay character catalog.
package character

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voicechat-service/internal/core"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

const (
	defaultAvatar   = "🤖"
	defaultVoice    = "neutral-calm"
	filePermissions = 0o600
	dirPermissions  = 0o750

	logFmtLoaded  = "Loaded %d characters from %s"
	logFmtSeeded  = "Seeded %d characters from %s"
	logFmtCreated = "Created character %s (%s)"
	logFmtUpdated = "Updated character %s"
	logFmtDeleted = "Deleted character %s"
)

var (
	// ErrNotFound is returned when no character has the requested id.
	ErrNotFound = errors.New("character not found")
	// ErrNameRequired is returned when a character is created without a name.
	ErrNameRequired = errors.New("character name is required")
)

// Character is one catalog record.
type Character struct {
	ID          string    `json:"id"          yaml:"id"`
	Name        string    `json:"name"        yaml:"name"`
	Personality string    `json:"personality" yaml:"personality"`
	Description string    `json:"description" yaml:"description"`
	Avatar      string    `json:"avatar"      yaml:"avatar"`
	Voice       string    `json:"voice"       yaml:"voice"`
	Traits      []string  `json:"traits"      yaml:"traits"`
	Backstory   string    `json:"backstory"   yaml:"backstory"`
	CreatedAt   time.Time `json:"created_at"  yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at"  yaml:"-"`
}

// Persona projects the record onto the view the turn pipeline consumes.
func (c Character) Persona() core.Persona {
	return core.Persona{
		Name:        c.Name,
		Personality: c.Personality,
		Traits:      append([]string(nil), c.Traits...),
		Backstory:   c.Backstory,
		Voice:       c.Voice,
	}
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Name        *string   `json:"name"`
	Personality *string   `json:"personality"`
	Description *string   `json:"description"`
	Avatar      *string   `json:"avatar"`
	Voice       *string   `json:"voice"`
	Traits      *[]string `json:"traits"`
	Backstory   *string   `json:"backstory"`
}

// Stats summarizes the catalog.
type Stats struct {
	VoiceDistribution map[string]int `json:"voice_distribution"`
	TraitDistribution map[string]int `json:"trait_distribution"`
	TotalCharacters   int            `json:"total_characters"`
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides the id source.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// Store is a file-backed character catalog safe for concurrent use.
type Store struct {
	log        *logger.Logger
	now        func() time.Time
	newID      func() string
	characters map[string]Character
	path       string
	order      []string
	mu         sync.RWMutex
}

// Open loads the catalog at path. An empty catalog is seeded from seedFile when it is
// set, or from the built-in characters otherwise, and written back to path.
func Open(path, seedFile string, log *logger.Logger, opts ...Option) (*Store, error) {
	store := &Store{
		log:        log,
		now:        time.Now,
		newID:      uuid.NewString,
		characters: make(map[string]Character),
		path:       path,
	}

	for _, opt := range opts {
		opt(store)
	}

	loadErr := store.load()
	if loadErr != nil {
		return nil, loadErr
	}

	if len(store.order) > 0 {
		return store, nil
	}

	seeds := defaultCharacters()
	source := "built-in defaults"

	if seedFile != "" {
		fileSeeds, seedErr := LoadSeedFile(seedFile)
		if seedErr != nil {
			return nil, seedErr
		}

		seeds = fileSeeds
		source = seedFile
	}

	for _, seed := range seeds {
		store.insert(seed)
	}

	saveErr := store.save()
	if saveErr != nil {
		return nil, saveErr
	}

	store.log.Info(logFmtSeeded, len(seeds), source)

	return store, nil
}

// All returns every character in insertion order.
func (s *Store) All() []Character {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Character, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.characters[id])
	}

	return result
}

// Count returns the catalog size.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.order)
}

// Get returns the character with the given id.
func (s *Store) Get(id string) (Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	character, found := s.characters[id]
	if !found {
		return Character{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return character, nil
}

// Persona implements core.CharacterReader.
func (s *Store) Persona(id string) (core.Persona, bool) {
	character, err := s.Get(id)
	if err != nil {
		return core.Persona{}, false
	}

	return character.Persona(), true
}

// Create adds a new character. Any id on the input is ignored.
func (s *Store) Create(input Character) (Character, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Character{}, ErrNameRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := s.insert(input)

	saveErr := s.save()
	if saveErr != nil {
		s.remove(created.ID)

		return Character{}, saveErr
	}

	s.log.Info(logFmtCreated, created.ID, created.Name)

	return created, nil
}

// Update applies patch to the character with the given id. The id never changes.
func (s *Store) Update(id string, patch Patch) (Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, found := s.characters[id]
	if !found {
		return Character{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return Character{}, ErrNameRequired
	}

	updated := previous
	applyPatch(&updated, patch)
	updated.UpdatedAt = s.now().UTC()
	s.characters[id] = updated

	saveErr := s.save()
	if saveErr != nil {
		s.characters[id] = previous

		return Character{}, saveErr
	}

	s.log.Info(logFmtUpdated, id)

	return updated, nil
}

// Delete removes the character with the given id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, found := s.characters[id]
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	position := s.remove(id)

	saveErr := s.save()
	if saveErr != nil {
		s.characters[id] = previous
		s.order = append(s.order[:position], append([]string{id}, s.order[position:]...)...)

		return saveErr
	}

	s.log.Info(logFmtDeleted, id)

	return nil
}

// Search returns characters whose name, personality or any trait contains query,
// case-insensitively. An empty query matches everything.
func (s *Store) Search(query string) []Character {
	needle := strings.ToLower(strings.TrimSpace(query))
	all := s.All()

	if needle == "" {
		return all
	}

	matches := make([]Character, 0, len(all))

	for _, character := range all {
		if matchesQuery(character, needle) {
			matches = append(matches, character)
		}
	}

	return matches
}

// Stats computes voice and trait distributions over the catalog.
func (s *Store) Stats() Stats {
	all := s.All()
	stats := Stats{
		VoiceDistribution: make(map[string]int),
		TraitDistribution: make(map[string]int),
		TotalCharacters:   len(all),
	}

	for _, character := range all {
		stats.VoiceDistribution[character.Voice]++

		for _, trait := range character.Traits {
			stats.TraitDistribution[trait]++
		}
	}

	return stats
}

func matchesQuery(character Character, needle string) bool {
	if strings.Contains(strings.ToLower(character.Name), needle) ||
		strings.Contains(strings.ToLower(character.Personality), needle) {
		return true
	}

	for _, trait := range character.Traits {
		if strings.Contains(strings.ToLower(trait), needle) {
			return true
		}
	}

	return false
}

func applyPatch(character *Character, patch Patch) {
	if patch.Name != nil {
		character.Name = *patch.Name
	}

	if patch.Personality != nil {
		character.Personality = *patch.Personality
	}

	if patch.Description != nil {
		character.Description = *patch.Description
	}

	if patch.Avatar != nil {
		character.Avatar = *patch.Avatar
	}

	if patch.Voice != nil {
		character.Voice = *patch.Voice
	}

	if patch.Traits != nil {
		character.Traits = append([]string{}, (*patch.Traits)...)
	}

	if patch.Backstory != nil {
		character.Backstory = *patch.Backstory
	}
}

// insert assigns id and timestamps and appends the record. Callers hold the lock.
func (s *Store) insert(input Character) Character {
	now := s.now().UTC()

	record := input
	record.ID = s.newID()
	record.CreatedAt = now
	record.UpdatedAt = now

	if record.Avatar == "" {
		record.Avatar = defaultAvatar
	}

	if record.Voice == "" {
		record.Voice = defaultVoice
	}

	if record.Traits == nil {
		record.Traits = []string{}
	}

	s.characters[record.ID] = record
	s.order = append(s.order, record.ID)

	return record
}

// remove drops id and returns its former position. Callers hold the lock.
func (s *Store) remove(id string) int {
	delete(s.characters, id)

	for index, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:index], s.order[index+1:]...)

			return index
		}
	}

	return len(s.order)
}

func (s *Store) load() error {
	data, readErr := os.ReadFile(s.path)
	if errors.Is(readErr, os.ErrNotExist) {
		return nil
	}

	if readErr != nil {
		return fmt.Errorf("failed to read character file %s: %w", s.path, readErr)
	}

	var records []Character

	unmarshalErr := sonic.Unmarshal(data, &records)
	if unmarshalErr != nil {
		return fmt.Errorf("failed to decode character file %s: %w", s.path, unmarshalErr)
	}

	for _, record := range records {
		if record.ID == "" {
			record.ID = s.newID()
		}

		if record.Traits == nil {
			record.Traits = []string{}
		}

		if _, duplicate := s.characters[record.ID]; !duplicate {
			s.order = append(s.order, record.ID)
		}

		s.characters[record.ID] = record
	}

	s.log.Info(logFmtLoaded, len(s.order), s.path)

	return nil
}

// save writes the catalog through a temp file and rename. Callers hold the lock.
func (s *Store) save() error {
	records := make([]Character, 0, len(s.order))
	for _, id := range s.order {
		records = append(records, s.characters[id])
	}

	data, marshalErr := sonic.ConfigStd.MarshalIndent(records, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("failed to encode characters: %w", marshalErr)
	}

	dir := filepath.Dir(s.path)

	mkdirErr := os.MkdirAll(dir, dirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf("failed to create character directory %s: %w", dir, mkdirErr)
	}

	tempFile, createErr := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if createErr != nil {
		return fmt.Errorf("failed to create temp character file: %w", createErr)
	}

	tempPath := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()

	writeErr = errors.Join(writeErr, closeErr)
	if writeErr == nil {
		writeErr = os.Chmod(tempPath, filePermissions)
	}

	if writeErr == nil {
		writeErr = os.Rename(tempPath, s.path)
	}

	if writeErr != nil {
		_ = os.Remove(tempPath)

		return fmt.Errorf("failed to write character file %s: %w", s.path, writeErr)
	}

	return nil
}
