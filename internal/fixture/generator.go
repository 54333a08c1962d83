package fixture

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// Generator produces fixtures from schemas. It is safe for concurrent use.
type Generator struct {
	mu    sync.Mutex
	faker *gofakeit.Faker
	now   func() time.Time
}

// NewGenerator returns a randomly seeded generator.
func NewGenerator() *Generator {
	return &Generator{faker: gofakeit.New(0), now: time.Now}
}

// NewSeeded returns a generator with a fixed seed, for reproducing a run.
// Date and title fields still depend on the current time.
func NewSeeded(seed uint64) *Generator {
	return &Generator{faker: gofakeit.New(seed), now: time.Now}
}

// SetClock replaces the time source used for date and title fields.
func (g *Generator) SetClock(now func() time.Time) {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
}

// Generate builds a fixture from schema. Invalid schemas return a *SchemaError.
func (g *Generator) Generate(schema Schema) (Fixture, error) {
	if err := schema.Validate(); err != nil {
		return Fixture{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	values, err := g.fields(schema.Name, "", schema.Fields, now)
	if err != nil {
		return Fixture{}, err
	}
	f := Fixture{schema: schema.Name, values: values}
	if schema.Check != nil {
		if err := schema.Check(f); err != nil {
			return Fixture{}, &SchemaError{Schema: schema.Name, Reason: err.Error()}
		}
	}
	return f, nil
}

func (g *Generator) fields(schema, parent string, fields []Field, now time.Time) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	dates := make(map[string]time.Time)

	for _, f := range fields {
		switch f.Kind {
		case KindInt:
			out[f.Name] = g.faker.IntRange(f.Min, f.Max)
		case KindBool:
			out[f.Name] = g.faker.Bool()
		case KindWord:
			out[f.Name] = g.faker.Word()
		case KindNoun:
			out[f.Name] = g.faker.Noun()
		case KindFirstName:
			out[f.Name] = g.faker.FirstName()
		case KindLastName:
			out[f.Name] = g.faker.LastName()
		case KindSentence:
			words := 5
			if f.Max > 0 {
				words = g.faker.IntRange(max(f.Min, 1), f.Max)
			}
			out[f.Name] = g.faker.Sentence(words)
		case KindTitle:
			title := f.Prefix + now.Format(layoutOr(f.Layout, DefaultTitleLayout))
			if f.Max > 0 {
				title += "-" + strings.ToLower(g.faker.LetterN(uint(f.Max)))
			}
			out[f.Name] = title
		case KindDate:
			d := startOfDay(now).AddDate(0, 0, g.faker.IntRange(f.Min, f.Max))
			dates[f.Name] = d
			out[f.Name] = d.Format(layoutOr(f.Layout, DefaultDateLayout))
		case KindDateAfter:
			base, ok := dates[f.After]
			if !ok {
				return nil, &SchemaError{Schema: schema, Field: joinPath(parent, f.Name), Reason: fmt.Sprintf("after %q has no generated date", f.After)}
			}
			d := base.AddDate(0, 0, g.faker.IntRange(f.Min, f.Max))
			dates[f.Name] = d
			out[f.Name] = d.Format(layoutOr(f.Layout, DefaultDateLayout))
		case KindObject:
			nested, err := g.fields(schema, joinPath(parent, f.Name), f.Fields, now)
			if err != nil {
				return nil, err
			}
			out[f.Name] = nested
		case KindConst:
			out[f.Name] = deepCopy(f.Value)
		}
	}
	return out, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func layoutOr(layout, fallback string) string {
	if layout == "" {
		return fallback
	}
	return layout
}
