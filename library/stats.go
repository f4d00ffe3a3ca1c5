package library

import (
	"context"

	"github.com/doug-martin/goqu/v9"
)

const (
	dashboardPastLimit      = 5
	dashboardSuggestedLimit = 3
)

// GetStats counts books, free copies, active loans and users.
func (d *Database) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	for _, q := range []struct {
		dest *int
		ds   *goqu.SelectDataset
	}{
		{&s.TotalBooks, d.from("books").Select(goqu.COUNT("*"))},
		{&s.AvailableCopies, d.from("books").Select(goqu.COALESCE(goqu.SUM("available_copies"), 0))},
		{&s.ActiveBorrows, d.from("borrow_records").Select(goqu.COUNT("*")).Where(goqu.C("return_time").IsNull())},
		{&s.TotalUsers, d.from("users").Select(goqu.COUNT("*"))},
	} {
		if err := getx(ctx, d.db, q.dest, q.ds); err != nil {
			return nil, storageError("stats", err)
		}
	}
	return &s, nil
}

// GetDashboard collects a member's current loans, most recent returns, and a few available
// books they are not holding.
func (d *Database) GetDashboard(ctx context.Context, userID int64) (*Dashboard, error) {
	dash := &Dashboard{Current: []*BorrowView{}, Past: []*BorrowView{}, Suggested: []*Book{}}

	current := d.borrowViews().
		Where(goqu.I("r.user_id").Eq(userID), goqu.I("r.return_time").IsNull()).
		Order(goqu.I("r.due_time").Asc(), goqu.I("r.id").Asc())
	if err := selectx(ctx, d.db, &dash.Current, current); err != nil {
		return nil, storageError("dashboard", err)
	}

	past := d.borrowViews().
		Where(goqu.I("r.user_id").Eq(userID), goqu.I("r.return_time").IsNotNull()).
		Order(goqu.I("r.return_time").Desc(), goqu.I("r.id").Desc()).
		Limit(dashboardPastLimit)
	if err := selectx(ctx, d.db, &dash.Past, past); err != nil {
		return nil, storageError("dashboard", err)
	}

	held := d.from("borrow_records").Select("book_id").
		Where(goqu.C("user_id").Eq(userID), goqu.C("return_time").IsNull())
	suggested := d.from("books").Select(bookColumns...).
		Where(goqu.C("available_copies").Gt(0), goqu.C("id").NotIn(held)).
		Order(goqu.L("RANDOM()").Asc()).
		Limit(dashboardSuggestedLimit)
	if err := selectx(ctx, d.db, &dash.Suggested, suggested); err != nil {
		return nil, storageError("dashboard", err)
	}
	if err := d.attachCategories(ctx, d.db, dash.Suggested); err != nil {
		return nil, storageError("dashboard", err)
	}
	return dash, nil
}
