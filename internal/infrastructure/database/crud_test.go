package database

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func queryCell(t *testing.T, db *DB, query string, args ...any) any {
	t.Helper()

	v, err := db.QueryFirstCell(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("QueryFirstCell(%q) error = %v", query, err)
	}
	return v
}

func TestInsert(t *testing.T) {
	ctx := context.Background()

	t.Run("one record", func(t *testing.T) {
		db := openTestDB(t)

		id, err := db.Insert(ctx, "Setting", Record{"key": "test2", "value": "1234", "type": 0})
		if err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		if id != 3 {
			t.Errorf("Insert() = %d, want 3", id)
		}
	})

	t.Run("many records", func(t *testing.T) {
		db := openTestDB(t)

		id, err := db.InsertMany(ctx, "Setting", []Record{
			{"key": "test2", "value": "1234", "type": 0},
			{"key": "test3", "value": "12345", "type": 0},
		})
		if err != nil {
			t.Fatalf("InsertMany() error = %v", err)
		}
		if id != 4 {
			t.Errorf("InsertMany() = %d, want 4", id)
		}

		n := queryCell(t, db, "SELECT COUNT(1) FROM Setting WHERE key IN (?, ?)", "test2", "test3")
		if n != int64(2) {
			t.Errorf("inserted rows = %v, want 2", n)
		}
	})

	t.Run("whitelist", func(t *testing.T) {
		db := openTestDB(t)

		id, err := db.InsertMany(ctx, "Setting", []Record{
			{"key": "test2", "value": "1234", "type": 0},
			{"key": "test3", "value": "12345", "type": 0},
		}, Whitelist("key"))
		if err != nil {
			t.Fatalf("InsertMany() error = %v", err)
		}
		if id != 4 {
			t.Errorf("InsertMany() = %d, want 4", id)
		}

		if v := queryCell(t, db, "SELECT value FROM Setting WHERE key = ?", "test2"); v != nil {
			t.Errorf("value = %v, want NULL", v)
		}
	})

	t.Run("blacklist", func(t *testing.T) {
		db := openTestDB(t)

		id, err := db.InsertMany(ctx, "Setting", []Record{
			{"key": "test2", "value": "1234", "type": 1},
			{"key": "test3", "value": "12345", "type": 0},
		}, Blacklist("type"))
		if err != nil {
			t.Fatalf("InsertMany() error = %v", err)
		}
		if id != 4 {
			t.Errorf("InsertMany() = %d, want 4", id)
		}

		if v := queryCell(t, db, "SELECT type FROM Setting WHERE key = ?", "test2"); v != int64(0) {
			t.Errorf("type = %v, want 0", v)
		}
	})

	t.Run("undefined and nil", func(t *testing.T) {
		db := openTestDB(t)

		if _, err := db.Insert(ctx, "Setting", Record{"key": "u", "value": nil, "type": Undefined}); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		row, err := db.QueryFirstRow(ctx, "SELECT value, type FROM Setting WHERE key = ?", "u")
		if err != nil {
			t.Fatalf("QueryFirstRow() error = %v", err)
		}
		if row["value"] != nil || row["type"] != int64(0) {
			t.Errorf("row = %v, want value NULL and default type 0", row)
		}
	})

	t.Run("missing columns in later records bind null", func(t *testing.T) {
		db := openTestDB(t)

		_, err := db.InsertMany(ctx, "Setting", []Record{
			{"key": "a", "value": "1"},
			{"key": "b"},
		})
		if err != nil {
			t.Fatalf("InsertMany() error = %v", err)
		}
		if v := queryCell(t, db, "SELECT value FROM Setting WHERE key = ?", "b"); v != nil {
			t.Errorf("value = %v, want NULL", v)
		}
	})

	t.Run("extra columns in later records fail", func(t *testing.T) {
		db := openTestDB(t)

		_, err := db.InsertMany(ctx, "Setting", []Record{
			{"key": "a"},
			{"key": "b", "value": "2"},
		})
		if !errors.Is(err, ErrColumnNotFound) {
			t.Fatalf("InsertMany() error = %v, want ErrColumnNotFound", err)
		}
		if n := queryCell(t, db, "SELECT COUNT(1) FROM Setting WHERE key IN (?, ?)", "a", "b"); n != int64(0) {
			t.Errorf("inserted rows = %v, want 0", n)
		}

		_, err = db.ReplaceMany(ctx, "Setting", []Record{
			{"key": "a"},
			{"key": "b", "type": 1},
		})
		if !errors.Is(err, ErrColumnNotFound) {
			t.Errorf("ReplaceMany() error = %v, want ErrColumnNotFound", err)
		}
	})

	t.Run("extra columns removed by filter are ignored", func(t *testing.T) {
		db := openTestDB(t)

		_, err := db.InsertMany(ctx, "Setting", []Record{
			{"key": "a", "value": "1"},
			{"key": "b", "value": "2", "type": 1},
			{"key": "c", "value": "3", "type": Undefined},
		}, Blacklist("type"))
		if err != nil {
			t.Fatalf("InsertMany() error = %v", err)
		}
		if n := queryCell(t, db, "SELECT COUNT(1) FROM Setting WHERE key IN (?, ?, ?)", "a", "b", "c"); n != int64(3) {
			t.Errorf("inserted rows = %v, want 3", n)
		}
	})
}

func TestReplace(t *testing.T) {
	ctx := context.Background()

	t.Run("new row", func(t *testing.T) {
		db := openTestDB(t)

		id, err := db.Replace(ctx, "Setting", Record{"key": "test2", "value": "12349", "type": 0})
		if err != nil {
			t.Fatalf("Replace() error = %v", err)
		}
		if id != 3 {
			t.Errorf("Replace() = %d, want 3", id)
		}
	})

	t.Run("returns new id when it overwrites", func(t *testing.T) {
		db := openTestDB(t)

		for _, want := range []int64{3, 4} {
			id, err := db.Replace(ctx, "Setting", Record{"key": "test", "value": "new value", "type": 0})
			if err != nil {
				t.Fatalf("Replace() error = %v", err)
			}
			if id != want {
				t.Errorf("Replace() = %d, want %d", id, want)
			}
		}

		if n := queryCell(t, db, "SELECT COUNT(*) FROM Setting WHERE key = ?", "test"); n != int64(1) {
			t.Errorf("rows with key test = %v, want 1", n)
		}
	})

	t.Run("many", func(t *testing.T) {
		db := openTestDB(t)

		id, err := db.ReplaceMany(ctx, "Setting", []Record{
			{"key": "test", "value": "x"},
			{"key": "locale", "value": "en"},
		})
		if err != nil {
			t.Fatalf("ReplaceMany() error = %v", err)
		}
		if id != 4 {
			t.Errorf("ReplaceMany() = %d, want 4", id)
		}
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("equals where", func(t *testing.T) {
		db := openTestDB(t)

		n, err := db.Update(ctx, "Setting", Record{"value": "1234"}, Equals{"key": "test", "value": "now"})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if n != 1 {
			t.Errorf("Update() = %d, want 1", n)
		}
	})

	t.Run("expression where", func(t *testing.T) {
		db := openTestDB(t)

		n, err := db.Update(ctx, "Setting", Record{"key": "test2", "value": "1234"},
			Expr("`key` = ? AND `value` = ?", "test", "now"))
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if n != 1 {
			t.Errorf("Update() = %d, want 1", n)
		}
		if c := queryCell(t, db, "SELECT COUNT(1) FROM Setting WHERE key = ?", "test2"); c != int64(1) {
			t.Errorf("rows with key test2 = %v, want 1", c)
		}
	})

	t.Run("id where", func(t *testing.T) {
		db := openTestDB(t)

		n, err := db.Update(ctx, "Setting", Record{"value": "en"}, ID(2))
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if n != 1 {
			t.Errorf("Update() = %d, want 1", n)
		}
		if v := queryCell(t, db, "SELECT value FROM Setting WHERE key = ?", "locale"); v != "en" {
			t.Errorf("locale = %v, want en", v)
		}
	})

	t.Run("whitelist", func(t *testing.T) {
		db := openTestDB(t)

		n, err := db.Update(ctx, "Setting", Record{"key": "test2", "value": "1234"},
			Expr("`key` = ? AND `value` = ?", "test", "now"), Whitelist("key"))
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if n != 1 {
			t.Errorf("Update() = %d, want 1", n)
		}
		if v := queryCell(t, db, "SELECT value FROM Setting WHERE key = ?", "test2"); v != "now" {
			t.Errorf("value = %v, want now", v)
		}
	})

	t.Run("blacklist", func(t *testing.T) {
		db := openTestDB(t)

		n, err := db.Update(ctx, "Setting", Record{"key": "test2", "value": "1234"},
			Expr("`key` = ? AND `value` = ?", "test", "now"), Blacklist("key", "fasdasd"))
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if n != 1 {
			t.Errorf("Update() = %d, want 1", n)
		}
		if v := queryCell(t, db, "SELECT value FROM Setting WHERE key = ?", "test"); v != "1234" {
			t.Errorf("value = %v, want 1234", v)
		}
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("equals where", func(t *testing.T) {
		db := openTestDB(t)

		n, err := db.Delete(ctx, "Setting", Equals{"key": "test", "value": "now"})
		if err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if n != 1 {
			t.Errorf("Delete() = %d, want 1", n)
		}
	})

	t.Run("expression where", func(t *testing.T) {
		db := openTestDB(t)

		n, err := db.Delete(ctx, "Setting", Expr("`key` = ? AND `value` = ?", "test", "now"))
		if err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if n != 1 {
			t.Errorf("Delete() = %d, want 1", n)
		}
		if c := queryCell(t, db, "SELECT COUNT(1) FROM Setting WHERE key = ?", "test"); c != int64(0) {
			t.Errorf("rows with key test = %v, want 0", c)
		}
	})

	t.Run("no match", func(t *testing.T) {
		db := openTestDB(t)

		n, err := db.Delete(ctx, "Setting", ID(99))
		if err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if n != 0 {
			t.Errorf("Delete() = %d, want 0", n)
		}
	})
}

func TestWriteErrors(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{
			name: "whitelist and blacklist",
			run: func() error {
				_, err := db.Insert(ctx, "Setting", Record{"key": "x"}, Whitelist("key"), Blacklist("value"))
				return err
			},
			wantErr: ErrWhitelistConflict,
		},
		{
			name: "empty record after filter",
			run: func() error {
				_, err := db.Insert(ctx, "Setting", Record{"key": "x"}, Whitelist("value"))
				return err
			},
			wantErr: ErrEmptyRecord,
		},
		{
			name: "no records",
			run: func() error {
				_, err := db.InsertMany(ctx, "Setting", nil)
				return err
			},
			wantErr: ErrEmptyRecord,
		},
		{
			name: "empty table",
			run: func() error {
				_, err := db.Insert(ctx, "", Record{"key": "x"})
				return err
			},
			wantErr: ErrInvalidTable,
		},
		{
			name: "update without where",
			run: func() error {
				_, err := db.Update(ctx, "Setting", Record{"value": "x"}, nil)
				return err
			},
			wantErr: ErrEmptyWhere,
		},
		{
			name: "delete with empty equals",
			run: func() error {
				_, err := db.Delete(ctx, "Setting", Equals{})
				return err
			},
			wantErr: ErrEmptyWhere,
		},
		{
			name: "update with only undefined fields",
			run: func() error {
				_, err := db.Update(ctx, "Setting", Record{"value": Undefined}, ID(1))
				return err
			},
			wantErr: ErrEmptyRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEqualsMatchesExpr(t *testing.T) {
	eqClause, eqArgs, err := Equals{"value": "now", "key": "test"}.clause()
	if err != nil {
		t.Fatalf("Equals.clause() error = %v", err)
	}
	exClause, exArgs, err := Expr("`key` = ? AND `value` = ?", "test", "now").clause()
	if err != nil {
		t.Fatalf("Expr.clause() error = %v", err)
	}

	if eqClause != exClause {
		t.Errorf("Equals clause = %q, Expr clause = %q", eqClause, exClause)
	}
	if !reflect.DeepEqual(eqArgs, exArgs) {
		t.Errorf("Equals args = %v, Expr args = %v", eqArgs, exArgs)
	}
}

func TestFilterColumns(t *testing.T) {
	record := Record{"key": "k", "value": "v", "type": 1, "skip": Undefined}

	tests := []struct {
		name   string
		filter *ColumnFilter
		want   Record
	}{
		{"no filter", nil, Record{"key": "k", "value": "v", "type": 1}},
		{"whitelist", &ColumnFilter{Columns: []string{"key", "skip"}}, Record{"key": "k"}},
		{"blacklist", &ColumnFilter{Columns: []string{"type", "unknown"}, Exclude: true}, Record{"key": "k", "value": "v"}},
		{"empty whitelist", &ColumnFilter{}, Record{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterColumns(record, tt.filter)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FilterColumns() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, ok := record["skip"]; !ok {
		t.Error("FilterColumns() modified its input")
	}
}
