package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"donor_check/internal/catalog"
	"donor_check/internal/config"
	"donor_check/internal/fetcher"
	"donor_check/internal/metrics"
	"donor_check/internal/model"
	"donor_check/internal/storage"
)

// --- mocks ---

type sentMsg struct {
	ChatID int64
	Text   string
	Markup any
}

type mockAPI struct {
	mu   sync.Mutex
	sent []sentMsg
	acks int
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch msg := c.(type) {
	case tgbotapi.MessageConfig:
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text, Markup: msg.ReplyMarkup})
	case tgbotapi.CallbackConfig:
		m.acks++
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(tgbotapi.UpdatesChannel)
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) last() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMsg{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) lastText() string {
	return m.last().Text
}

func (m *mockAPI) allTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.Text
	}
	return out
}

func (m *mockAPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
	m.acks = 0
}

type staticProvider struct {
	c *catalog.Catalog
}

func (p staticProvider) Current() *catalog.Catalog {
	return p.c
}

type stubNotices struct {
	notices []model.Notice
	err     error
	gotN    int
}

func (s *stubNotices) Latest(_ context.Context, n int) ([]model.Notice, error) {
	s.gotN = n
	return s.notices, s.err
}

// --- helpers ---

var testNow = time.Date(2024, time.January, 1, 10, 30, 0, 0, time.UTC)

func loadTestCatalog(t *testing.T) (model.RawCatalog, *catalog.Catalog) {
	t.Helper()
	raw, err := fetcher.NewDir(os.DirFS("../../testdata/catalog"), "testdata").Load(context.Background())
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	c, err := catalog.Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return raw, c
}

func newTestBot(t *testing.T, c *catalog.Catalog) (*Bot, *mockAPI, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := &mockAPI{}
	b := &Bot{
		api:      api,
		catalogs: staticProvider{c: c},
		store:    store,
		cfg:      &config.Config{},
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      func() time.Time { return testNow },
	}
	return b, api, store
}

func newCatalogBot(t *testing.T) (*Bot, *mockAPI, *storage.SQLite) {
	t.Helper()
	_, c := loadTestCatalog(t)
	return newTestBot(t, c)
}

// manyMedications builds a catalog with n medication rules for paging.
func manyMedications(t *testing.T, n int) *catalog.Catalog {
	t.Helper()
	var raw model.RawCatalog
	for i := 1; i <= n; i++ {
		raw.Medication = append(raw.Medication, model.RawRuleRecord{
			ID:          model.ID(fmt.Sprint(i)),
			Name:        fmt.Sprintf("약물 %02d", i),
			Category:    "medication",
			Restriction: &model.RawRestriction{Type: "temporary", PeriodValue: i, PeriodUnit: model.UnitDay},
		})
	}
	c, err := catalog.Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return c
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

func requireNotContains(t *testing.T, got, unwanted string) {
	t.Helper()
	if strings.Contains(got, unwanted) {
		t.Errorf("reply unexpectedly contains %q, got:\n%s", unwanted, got)
	}
}

func textMessage(userID int64, text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: 100},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len(cmd)},
		}
	}
	return msg
}

// --- handler tests ---

func TestHandleStart(t *testing.T) {
	b, api, _ := newCatalogBot(t)
	b.handleStart(100)
	requireContains(t, api.lastText(), "Welcome to the blood donation eligibility bot")
}

func TestHandleHelp(t *testing.T) {
	b, api, _ := newCatalogBot(t)
	b.handleHelp(100)
	requireContains(t, api.lastText(), "/search")
	requireContains(t, api.lastText(), "/category")
}

func TestHandleSearch(t *testing.T) {
	t.Run("temporary restriction", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleSearch(100, "감기")
		reply := api.lastText()
		requireContains(t, reply, `1 result(s) for "감기" as of 2024-01-01`)
		requireContains(t, reply, "감기 [질병]")
		requireContains(t, reply, "[WAIT] 2024년01월04일부터 가능")
		requireContains(t, reply, "제한 기간: 3일")
		requireContains(t, reply, `Matched: name "감기"`)
	})

	t.Run("permanent restriction by alias", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleSearch(100, "hcv")
		reply := api.lastText()
		requireContains(t, reply, "C형 간염 [질병]")
		requireContains(t, reply, "[NO] 영구 불가")
		requireContains(t, reply, `Matched: alias "HCV"`)
	})

	t.Run("conditional restriction", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleSearch(100, "고혈압")
		requireContains(t, api.lastText(), "[ASK] 혈압 180/100 미만일 때 가능")
	})

	t.Run("custom base date", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleSearch(100, "-d 2024-02-20 문신")
		reply := api.lastText()
		requireContains(t, reply, "as of 2024-02-20")
		requireContains(t, reply, "[WAIT] 2024년08월18일부터 가능")
	})

	t.Run("geographic exception", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleSearch(100, "Thailand Bangkok")
		reply := api.lastText()
		requireContains(t, reply, "Thailand - Bangkok [지역]")
		requireContains(t, reply, "[OK] 예외적으로 가능")
		requireContains(t, reply, "Exception area of Thailand.")
	})

	t.Run("country with exceptions", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleSearch(100, "Thailand")
		reply := api.lastText()
		requireContains(t, reply, "[WAIT] 2024년01월31일부터 가능")
		requireContains(t, reply, "Thailand (exceptions apply)")
	})

	t.Run("risk area", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleSearch(100, "Yunnan")
		requireContains(t, api.lastText(), "Yunnan is a restricted area of China.")
	})

	t.Run("no results", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleSearch(100, "zzz")
		if diff := cmp.Diff(`No rules match "zzz".`, api.lastText()); diff != "" {
			t.Errorf("reply (-want +got):\n%s", diff)
		}
	})

	t.Run("invalid date", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleSearch(100, "-d 2024-13-01 감기")
		requireContains(t, api.lastText(), "invalid date")
	})

	t.Run("empty query", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleSearch(100, "")
		requireContains(t, api.lastText(), "usage: /search")
	})

	t.Run("catalog not loaded", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil)
		b.handleSearch(100, "감기")
		requireContains(t, api.lastText(), "not loaded yet")
	})
}

func TestHandleCategory(t *testing.T) {
	t.Run("bad args", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleCategory(100, "")
		requireContains(t, api.lastText(), "usage: /category")
	})

	t.Run("unknown category", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleCategory(100, "food")
		requireContains(t, api.lastText(), `unknown category "food"`)
	})

	t.Run("single page has no keyboard", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleCategory(100, "disease")
		got := api.last()
		requireContains(t, got.Text, "질병 (disease): page 1/1, as of 2024-01-01")
		requireContains(t, got.Text, "[NO] C형 간염: 영구 불가")
		requireContains(t, got.Text, "[WAIT] 감기: 2024년01월04일부터 가능")
		if got.Markup != nil {
			t.Errorf("unexpected keyboard %+v", got.Markup)
		}
	})

	t.Run("by label", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleCategory(100, "지역")
		reply := api.lastText()
		requireContains(t, reply, "지역 (region)")
		requireContains(t, reply, "[OK] Thailand - Phuket: 예외적으로 가능")
	})

	t.Run("empty category", func(t *testing.T) {
		b, api, _ := newTestBot(t, manyMedications(t, 3))
		b.handleCategory(100, "procedure")
		if diff := cmp.Diff("No rules in category 시술.", api.lastText()); diff != "" {
			t.Errorf("reply (-want +got):\n%s", diff)
		}
	})

	t.Run("paged listing", func(t *testing.T) {
		b, api, _ := newTestBot(t, manyMedications(t, 25))

		b.handleCategory(100, "medication")
		first := api.last()
		requireContains(t, first.Text, "page 1/2")
		requireContains(t, first.Text, "약물 20")
		requireNotContains(t, first.Text, "약물 21")
		if diff := cmp.Diff([]string{"Next >:category:medication:2"}, buttons(first.Markup)); diff != "" {
			t.Errorf("keyboard (-want +got):\n%s", diff)
		}

		b.handleCategory(100, "medication 2")
		second := api.last()
		requireContains(t, second.Text, "page 2/2")
		requireContains(t, second.Text, "약물 25")
		requireNotContains(t, second.Text, "약물 20")
		if diff := cmp.Diff([]string{"< Prev:category:medication:1"}, buttons(second.Markup)); diff != "" {
			t.Errorf("keyboard (-want +got):\n%s", diff)
		}
	})

	t.Run("page past the end is clamped", func(t *testing.T) {
		b, api, _ := newTestBot(t, manyMedications(t, 25))
		b.handleCategory(100, "medication 9")
		requireContains(t, api.lastText(), "page 2/2")
	})
}

func buttons(markup any) []string {
	kb, ok := markup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		return nil
	}
	var out []string
	for _, row := range kb.InlineKeyboard {
		for _, btn := range row {
			data := ""
			if btn.CallbackData != nil {
				data = *btn.CallbackData
			}
			out = append(out, btn.Text+":"+data)
		}
	}
	return out
}

func TestHandleCategories(t *testing.T) {
	b, api, _ := newCatalogBot(t)
	b.handleCategories(100)
	reply := api.lastText()

	for _, want := range []string{
		"질병 (disease): 3 rules",
		"지역 (region): 5 rules",
		"약물 (medication): 2 rules",
		"백신 (vaccination): 2 rules",
		"시술 (procedure): 1 rules",
		"기타 (other): 1 rules",
	} {
		requireContains(t, reply, want)
	}
}

func TestHandleStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("no import", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleStatus(ctx, 100)
		if diff := cmp.Diff("Catalog: 14 rules\n", api.lastText()); diff != "" {
			t.Errorf("reply (-want +got):\n%s", diff)
		}
	})

	t.Run("with import", func(t *testing.T) {
		raw, c := loadTestCatalog(t)
		b, api, store := newTestBot(t, c)
		if _, err := store.ReplaceCatalog(ctx, raw, "testdata"); err != nil {
			t.Fatalf("replace catalog: %v", err)
		}
		b.handleStatus(ctx, 100)
		reply := api.lastText()
		requireContains(t, reply, "Catalog: 14 rules")
		requireContains(t, reply, "Last import: #1 from testdata")
	})

	t.Run("not loaded", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil)
		b.handleStatus(ctx, 100)
		requireContains(t, api.lastText(), "Catalog: not loaded")
	})
}

func TestHandleNotices(t *testing.T) {
	ctx := context.Background()

	t.Run("not configured", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleNotices(ctx, 100)
		if diff := cmp.Diff("Notices are not configured.", api.lastText()); diff != "" {
			t.Errorf("reply (-want +got):\n%s", diff)
		}
	})

	t.Run("fetch error", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.notices = &stubNotices{err: errors.New("timeout")}
		b.handleNotices(ctx, 100)
		requireContains(t, api.lastText(), "Failed to fetch notices")
	})

	t.Run("lists notices", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		src := &stubNotices{notices: []model.Notice{
			{Title: "말라리아 위험지역 지정 안내", Link: "https://www.bloodinfo.net/notice/101",
				PublishedAt: time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)},
			{Title: "헌혈 기준 개정 안내"},
		}}
		b.notices = src
		b.handleNotices(ctx, 100)

		want := "Latest notices:\n" +
			"\n2024-04-01 말라리아 위험지역 지정 안내\nhttps://www.bloodinfo.net/notice/101" +
			"\n헌혈 기준 개정 안내"
		if diff := cmp.Diff(want, api.lastText()); diff != "" {
			t.Errorf("reply (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(maxNotices, src.gotN); diff != "" {
			t.Errorf("requested notices (-want +got):\n%s", diff)
		}
	})

	t.Run("empty feed", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.notices = &stubNotices{}
		b.handleNotices(ctx, 100)
		if diff := cmp.Diff("No notices.", api.lastText()); diff != "" {
			t.Errorf("reply (-want +got):\n%s", diff)
		}
	})
}

func TestHandleUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatches commands", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)

		cmds := []struct {
			text     string
			contains string
		}{
			{"/start", "Welcome"},
			{"/help", "/categories"},
			{"/search 아스피린", "아스피린 [약물]"},
			{"/search -d 2024-03-01 아스피린", "2024년03월04일부터 가능"},
			{"/category vaccination", "[OK] 인플루엔자 백신: 가능"},
			{"/categories", "Categories:"},
			{"/status", "Catalog: 14 rules"},
			{"/notices", "Notices are not configured."},
			{"/unknown_cmd", "Unknown command"},
		}
		for _, tc := range cmds {
			api.reset()
			b.handleUpdate(ctx, tgbotapi.Update{Message: textMessage(1, tc.text)})
			requireContains(t, api.lastText(), tc.contains)
		}
	})

	t.Run("plain text searches", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleUpdate(ctx, tgbotapi.Update{Message: textMessage(1, "  타투  ")})
		requireContains(t, api.lastText(), "문신 [시술]")
	})

	t.Run("blank text is ignored", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.handleUpdate(ctx, tgbotapi.Update{Message: textMessage(1, "   ")})
		if diff := cmp.Diff(0, len(api.allTexts())); diff != "" {
			t.Errorf("expected no messages (-want +got):\n%s", diff)
		}
	})

	t.Run("access denied", func(t *testing.T) {
		b, api, _ := newCatalogBot(t)
		b.cfg = &config.Config{AllowedUsers: []int64{42}}
		b.handleUpdate(ctx, tgbotapi.Update{Message: textMessage(7, "감기")})
		if diff := cmp.Diff("Access denied.", api.lastText()); diff != "" {
			t.Errorf("reply (-want +got):\n%s", diff)
		}

		api.reset()
		b.handleUpdate(ctx, tgbotapi.Update{Message: textMessage(42, "감기")})
		requireContains(t, api.lastText(), "감기 [질병]")
	})
}

func TestMetricsRecorded(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newCatalogBot(t)
	m := metrics.New(prometheus.NewRegistry())
	b.SetMetrics(m)

	for _, text := range []string{"/search 감기", "/search zzz", "헌혈", "/bogus", "/status"} {
		b.handleUpdate(ctx, tgbotapi.Update{Message: textMessage(1, text)})
	}

	got := map[string]float64{
		"search":  testutil.ToFloat64(m.Commands.WithLabelValues("search")),
		"status":  testutil.ToFloat64(m.Commands.WithLabelValues("status")),
		"unknown": testutil.ToFloat64(m.Commands.WithLabelValues("unknown")),
		"hit":     testutil.ToFloat64(m.Searches.WithLabelValues("hit")),
		"miss":    testutil.ToFloat64(m.Searches.WithLabelValues("miss")),
	}
	want := map[string]float64{"search": 2, "status": 1, "unknown": 1, "hit": 2, "miss": 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()

	callback := func(userID int64, data string) *tgbotapi.CallbackQuery {
		return &tgbotapi.CallbackQuery{
			ID:      "cb",
			From:    &tgbotapi.User{ID: userID},
			Data:    data,
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		}
	}

	invalid := []struct {
		name string
		data string
	}{
		{"no separator", "nocolon"},
		{"unknown action", "delete:medication:1"},
		{"unknown category", "category:food:1"},
		{"invalid page", "category:medication:abc"},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			b, api, _ := newTestBot(t, manyMedications(t, 25))
			b.handleCallback(ctx, callback(1, tc.data))
			if diff := cmp.Diff(0, len(api.allTexts())); diff != "" {
				t.Errorf("expected no text messages (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(1, api.acks); diff != "" {
				t.Errorf("callback acks (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("category page", func(t *testing.T) {
		b, api, _ := newTestBot(t, manyMedications(t, 25))
		b.handleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(1, categoryCallback(model.CategoryMedication, 2))})
		requireContains(t, api.lastText(), "약물 (medication): page 2/2")
	})

	t.Run("denied user", func(t *testing.T) {
		b, api, _ := newTestBot(t, manyMedications(t, 25))
		b.cfg = &config.Config{AllowedUsers: []int64{42}}
		b.handleCallback(ctx, callback(7, "category:medication:2"))
		if diff := cmp.Diff(0, len(api.allTexts())); diff != "" {
			t.Errorf("expected no text messages (-want +got):\n%s", diff)
		}
	})
}
