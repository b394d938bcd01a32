package keyboard_test

import (
	"testing"

	"github.com/librimoms/club-bot/internal/bot/keyboard"
	"github.com/librimoms/club-bot/internal/testutil"
)

func TestMainMenu(t *testing.T) {
	translator := &mockTranslator{
		translations: map[string]string{
			keyboard.MenuLibrary:       "Library",
			keyboard.MenuFavorites:     "Favorites",
			keyboard.MenuNotifications: "Notifications",
			keyboard.MenuProfile:       "Profile",
			keyboard.MenuSettings:      "Settings",
			keyboard.MenuHelp:          "Help",
			keyboard.MenuAdmin:         "Admin",
		},
	}

	testCases := []struct {
		name  string
		admin bool
		rows  [][]string
	}{
		{
			name: "member",
			rows: [][]string{
				{"Library", "Favorites"},
				{"Notifications", "Profile"},
				{"Settings", "Help"},
			},
		},
		{
			name:  "admin",
			admin: true,
			rows: [][]string{
				{"Library", "Favorites"},
				{"Notifications", "Profile"},
				{"Settings", "Help"},
				{"Admin"},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			markup := keyboard.MainMenu(translator, tc.admin)

			if !markup.ResizeKeyboard {
				t.Fatalf("expected ResizeKeyboard to be true")
			}

			testutil.AssertEqual(t, len(tc.rows), len(markup.ReplyKeyboard))
			for i, row := range tc.rows {
				testutil.AssertEqual(t, len(row), len(markup.ReplyKeyboard[i]))
				for j, text := range row {
					testutil.AssertEqual(t, text, markup.ReplyKeyboard[i][j].Text)
				}
			}
		})
	}
}
