package notion_test

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-fusion/pkg/notion"
	"github.com/sells-group/venue-fusion/pkg/notion/mocks"
)

func TestQueryAll_FollowsCursor(t *testing.T) {
	mc := mocks.NewMockClient(t)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db", mock.MatchedBy(func(r *notionapi.DatabaseQueryRequest) bool {
		return r.StartCursor == ""
	})).Return(&notionapi.DatabaseQueryResponse{
		Results:    []notionapi.Page{{ID: "p1"}},
		HasMore:    true,
		NextCursor: "c2",
	}, nil).Once()
	mc.On("QueryDatabase", ctx, "db", mock.MatchedBy(func(r *notionapi.DatabaseQueryRequest) bool {
		return r.StartCursor == "c2"
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "p2"}},
	}, nil).Once()

	pages, err := notion.QueryAll(ctx, mc, "db", nil)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, notionapi.ObjectID("p2"), pages[1].ID)
}

func TestQueryByStatus_FilterAndError(t *testing.T) {
	mc := mocks.NewMockClient(t)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db", mock.MatchedBy(func(r *notionapi.DatabaseQueryRequest) bool {
		pf, ok := r.Filter.(notionapi.PropertyFilter)
		return ok && pf.Property == "Status" && pf.Status != nil && pf.Status.Equals == "Active"
	})).Return(nil, assert.AnError).Once()

	pages, err := notion.QueryByStatus(ctx, mc, "db", "Active")
	require.Error(t, err)
	assert.Nil(t, pages)
	assert.Contains(t, err.Error(), `notion: query status "Active"`)
}

func TestPlainText(t *testing.T) {
	page := notionapi.Page{Properties: notionapi.Properties{
		"Tag": &notionapi.TitleProperty{Title: []notionapi.RichText{
			{PlainText: "food"}, {PlainText: "-hall "},
		}},
		"Category": &notionapi.SelectProperty{Select: notionapi.Option{Name: "dining"}},
		"Notes":    &notionapi.RichTextProperty{RichText: []notionapi.RichText{{PlainText: "x"}}},
		"Count":    &notionapi.NumberProperty{Number: 3},
	}}
	assert.Equal(t, "food-hall", notion.PlainText(page, "Tag"))
	assert.Equal(t, "dining", notion.PlainText(page, "Category"))
	assert.Equal(t, "x", notion.PlainText(page, "Notes"))
	assert.Empty(t, notion.PlainText(page, "Count"))
	assert.Empty(t, notion.PlainText(page, "Missing"))
}

func TestPropertyBuilders(t *testing.T) {
	title := notion.Title("Cafe A")
	require.Len(t, title.Title, 1)
	assert.Equal(t, "Cafe A", title.Title[0].Text.Content)
	assert.Equal(t, "lisbon", notion.Text("lisbon").RichText[0].Text.Content)
	assert.InDelta(t, 0.4, notion.Number(0.4).Number, 1e-9)
	assert.Equal(t, "both_conflict", notion.Select("both_conflict").Select.Name)
}
