package admin

import (
	"context"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/librimoms/club-bot/internal/api"
	apperrors "github.com/librimoms/club-bot/internal/errors"
)

// CategoryBackend persists categories.
type CategoryBackend interface {
	Categories(ctx context.Context, token string) ([]api.Category, error)
	CreateCategory(ctx context.Context, token string, in api.CategoryInput) (*api.Category, error)
	UpdateCategory(ctx context.Context, token string, id int64, in api.CategoryInput) (*api.Category, error)
	DeleteCategory(ctx context.Context, token string, id int64) error
}

// Categories caches the category list and applies changes once the backend confirms them.
type Categories struct {
	backend CategoryBackend

	mu    sync.RWMutex
	items []api.Category
}

func NewCategories(backend CategoryBackend) *Categories {
	return &Categories{backend: backend}
}

func (c *Categories) Load(ctx context.Context, token string) ([]api.Category, error) {
	items, err := c.backend.Categories(ctx, token)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.items = slices.Clone(items)
	c.mu.Unlock()
	return items, nil
}

func (c *Categories) Items() []api.Category {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.items)
}

func (c *Categories) Create(ctx context.Context, token, name string) (*api.Category, error) {
	in, err := categoryInput(name)
	if err != nil {
		return nil, err
	}

	created, err := c.backend.CreateCategory(ctx, token, in)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.items = append(c.items, *created)
	c.mu.Unlock()
	return created, nil
}

func (c *Categories) Rename(ctx context.Context, token string, id int64, name string) (*api.Category, error) {
	in, err := categoryInput(name)
	if err != nil {
		return nil, err
	}

	updated, err := c.backend.UpdateCategory(ctx, token, id, in)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for i := range c.items {
		if c.items[i].ID == id {
			c.items[i] = *updated
		}
	}
	c.mu.Unlock()
	return updated, nil
}

func (c *Categories) Delete(ctx context.Context, token string, id int64) error {
	if err := c.backend.DeleteCategory(ctx, token, id); err != nil {
		return err
	}

	c.mu.Lock()
	c.items = slices.DeleteFunc(c.items, func(cat api.Category) bool { return cat.ID == id })
	c.mu.Unlock()
	return nil
}

func categoryInput(name string) (api.CategoryInput, error) {
	name = strings.TrimSpace(name)
	slug := Slugify(name)
	if name == "" || slug == "" {
		return api.CategoryInput{}, apperrors.NewFieldsError(map[string]string{"name": "Введите название категории"})
	}
	return api.CategoryInput{Name: name, Slug: slug}, nil
}

var cyrillic = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "h", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "sch", 'ъ': "",
	'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
}

// Slugify lowercases, transliterates Russian letters and joins words with dashes.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case cyrillic[r] != "":
			b.WriteString(cyrillic[r])
			dash = false
		case r == 'ъ' || r == 'ь':
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
