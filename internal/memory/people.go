package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/scrypster/robi/internal/storage"
	"github.com/scrypster/robi/pkg/types"
)

// personIDPrefix starts every generated person id: persona_<name>_<nn>.
const personIDPrefix = "persona_"

var accentFold = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	"à", "a", "è", "e", "ì", "i", "ò", "o", "ù", "u", "ç", "c",
)

// slugify lowercases name and reduces it to [a-z0-9_].
func slugify(name string) string {
	folded := accentFold.Replace(strings.ToLower(strings.TrimSpace(name)))
	var b strings.Builder
	lastUnderscore := true
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "_")
	if slug == "" {
		return "person"
	}
	return slug
}

// GetPerson returns a registered person.
func (s *Service) GetPerson(ctx context.Context, personID string) (*types.Person, error) {
	return s.people.GetPerson(ctx, personID)
}

// ListPeople returns everyone the robot knows, most recently seen first.
func (s *Service) ListPeople(ctx context.Context) ([]*types.Person, error) {
	return s.people.ListPeople(ctx)
}

// RenamePerson corrects a person's display name.
func (s *Service) RenamePerson(ctx context.Context, personID, name string) error {
	return s.people.RenamePerson(ctx, personID, strings.TrimSpace(name))
}

// TouchPerson records that personID was seen again.
func (s *Service) TouchPerson(ctx context.Context, personID string) error {
	return s.people.TouchPerson(ctx, personID, s.now())
}

// RegisterPerson returns the person called name, creating them if nobody by
// that name exists yet. Existing people are touched. The bool reports whether
// a new person was created.
func (s *Service) RegisterPerson(ctx context.Context, name string) (*types.Person, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, fmt.Errorf("%w: name is required", storage.ErrInvalidInput)
	}

	existing, err := s.people.FindPersonByName(ctx, name)
	if err == nil {
		if err := s.people.TouchPerson(ctx, existing.PersonID, s.now()); err != nil {
			return nil, false, err
		}
		existing.InteractionCount++
		existing.LastSeen = s.now()
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	prefix := personIDPrefix + slugify(name) + "_"
	n, err := s.people.CountPeopleWithPrefix(ctx, prefix)
	if err != nil {
		return nil, false, err
	}

	// A concurrent registration may take the same suffix; move past it.
	for attempt := 0; attempt < 3; attempt++ {
		now := s.now()
		p := &types.Person{
			PersonID:         fmt.Sprintf("%s%02d", prefix, n+1+attempt),
			Name:             name,
			FirstSeen:        now,
			LastSeen:         now,
			InteractionCount: 1,
		}
		err = s.people.CreatePerson(ctx, p)
		if err == nil {
			return p, true, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return nil, false, err
		}
	}
	return nil, false, err
}

// AttachFaceEmbedding decodes raw (128 little-endian float32 values) and
// stores it for personID.
func (s *Service) AttachFaceEmbedding(ctx context.Context, personID string, raw []byte, lighting string) (*types.FaceEmbedding, error) {
	vec, err := types.DecodeFaceEmbedding(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	e := &types.FaceEmbedding{
		PersonID:          personID,
		Embedding:         vec,
		CapturedAt:        s.now(),
		LightingCondition: lighting,
	}
	if err := s.people.AddFaceEmbedding(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// FaceEmbeddings lists a person's stored face vectors.
func (s *Service) FaceEmbeddings(ctx context.Context, personID string) ([]*types.FaceEmbedding, error) {
	return s.people.ListFaceEmbeddings(ctx, personID)
}

// RegisterFace finds or creates the person called name and attaches the
// embedding to them.
func (s *Service) RegisterFace(ctx context.Context, name string, raw []byte) (*types.Person, error) {
	p, created, err := s.RegisterPerson(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("memory: failed to register %q: %w", name, err)
	}
	if _, err := s.AttachFaceEmbedding(ctx, p.PersonID, raw, ""); err != nil {
		return nil, fmt.Errorf("memory: failed to attach face to %s: %w", p.PersonID, err)
	}
	if created {
		log.Printf("memory: registered new person %s", p.PersonID)
	}
	return p, nil
}
