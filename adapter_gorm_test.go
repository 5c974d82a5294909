package sieve

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type gormUser struct {
	ID   uint
	Name string
	Age  int
}

func (gormUser) TableName() string { return "gorm_users" }

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection of :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func seedUsers(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.AutoMigrate(&gormUser{}))
	users := []gormUser{
		{Name: "ann", Age: 25},
		{Name: "bob", Age: 22},
		{Name: "cid", Age: 35},
		{Name: "dan", Age: 28},
	}
	require.NoError(t, db.Create(&users).Error)
}

func gormFields() *FieldSet {
	return NewFieldSet("gorm_users").
		Add("id", IntegerType{}).
		Add("name", TextType{}).
		Add("age", IntegerType{})
}

func names(users []gormUser) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Name)
	}
	return out
}

func TestGormGenerator(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db)
	fs := gormFields()

	compile := func(t *testing.T, input string) *GormCondition {
		t.Helper()
		g := NewGormGenerator(mustProcess(t, fs, input))
		require.NoError(t, g.FieldConfig().MapAll())
		out, err := g.Generate()
		require.NoError(t, err)
		return out
	}

	t.Run("filter and order", func(t *testing.T) {
		out := compile(t, `age=20-30; name=!bob; @age=desc;`)
		assert.Equal(t, "((age >= @age_0 AND age <= @age_1) AND name <> @name_0)", out.SQL.Predicate)

		var users []gormUser
		require.NoError(t, out.Apply(db).Find(&users).Error)
		assert.Equal(t, []string{"dan", "ann"}, names(users))
	})

	t.Run("dry run", func(t *testing.T) {
		out := compile(t, `age=20-30; @age=desc;`)
		s := out.DryRunSQL(db, &[]gormUser{})
		assert.Contains(t, s, "age >= 20")
		assert.Contains(t, s, "ORDER BY age DESC")
	})

	t.Run("or group and patterns", func(t *testing.T) {
		out := compile(t, `*(name=~>c; age=<23;) @name=asc;`)
		var users []gormUser
		require.NoError(t, out.Apply(db).Find(&users).Error)
		assert.Equal(t, []string{"bob", "cid"}, names(users))
	})

	t.Run("values", func(t *testing.T) {
		out := compile(t, `name=ann,dan; @id=asc;`)
		var users []gormUser
		require.NoError(t, out.Apply(db).Find(&users).Error)
		assert.Equal(t, []string{"ann", "dan"}, names(users))
	})

	t.Run("empty condition", func(t *testing.T) {
		out := compile(t, `@age=asc;`)
		assert.Nil(t, out.Expr)
		var users []gormUser
		require.NoError(t, out.Apply(db).Find(&users).Error)
		assert.Equal(t, []string{"bob", "ann", "dan", "cid"}, names(users))
	})

	t.Run("single use", func(t *testing.T) {
		g := NewGormGenerator(mustProcess(t, fs, `id=1;`))
		require.NoError(t, g.FieldConfig().MapAll())
		first, err := g.Generate()
		require.NoError(t, err)
		second, err := g.Generate()
		require.NoError(t, err)
		assert.Same(t, first, second)
		assert.True(t, errors.Is(g.SetField("id", "other"), ErrGeneratorLocked))
	})

	t.Run("fingerprint names the backend", func(t *testing.T) {
		g := NewGormGenerator(mustProcess(t, fs, `id=1;`))
		assert.Contains(t, g.Fingerprint(), "gorm:sql|")
	})
}
