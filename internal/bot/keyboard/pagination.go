package keyboard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/librimoms/club-bot/internal/i18n"
)

// PaginationButtons returns up to three inline buttons (prev, current page, next)
// allowing the caller to paginate lists using a shared action prefix.
func PaginationButtons(t i18n.Translator, action string, page, totalPages int) []InlineButton {
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	buttons := make([]InlineButton, 0, 3)

	if page > 1 {
		buttons = append(buttons, InlineButton{
			Text:   translated(t, "pagination.prev", "◀️ Prev"),
			Unique: action,
			Data:   strconv.Itoa(page - 1),
		})
	}

	buttons = append(buttons, InlineButton{
		Text:   paginationLabel(t, page, totalPages),
		Unique: action,
		Data:   strconv.Itoa(page),
	})

	if page < totalPages {
		buttons = append(buttons, InlineButton{
			Text:   translated(t, "pagination.next", "Next ▶️"),
			Unique: action,
			Data:   strconv.Itoa(page + 1),
		})
	}

	return buttons
}

// Page returns the items of a 1-based page and the number of pages.
func Page[T any](items []T, page, size int) ([]T, int) {
	if size <= 0 {
		size = len(items)
	}
	if size == 0 {
		return nil, 1
	}
	pages := (len(items) + size - 1) / size
	if pages < 1 {
		pages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}
	start := (page - 1) * size
	end := min(start+size, len(items))
	return items[start:end], pages
}

// ParsePage reads a page number from callback data and defaults to the first page.
func ParsePage(data string) int {
	page, err := strconv.Atoi(strings.TrimSpace(data))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func translated(t i18n.Translator, key, fallback string) string {
	if t == nil {
		return fallback
	}

	text := strings.TrimSpace(t.T(key))
	if text == "" || text == key {
		return fallback
	}

	return text
}

func paginationLabel(t i18n.Translator, page, total int) string {
	label := translated(t, "pagination.page", "")
	if label == "" {
		label = "Page {{.Page}}/{{.Total}}"
	}

	label = strings.ReplaceAll(label, "{{.Page}}", strconv.Itoa(page))
	label = strings.ReplaceAll(label, "{{.Total}}", strconv.Itoa(total))

	if strings.Contains(label, "{{") {
		return fmt.Sprintf("Page %d/%d", page, total)
	}

	return label
}
