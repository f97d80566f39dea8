package store_test

import (
	"context"
	"regexp"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/jmoiron/sqlx"

	"github.com/docfusion/docfusion/pkg/store"
)

var _ = Describe("PostgresStateStore", func() {
	var (
		ctx  context.Context
		mock sqlmock.Sqlmock
		s    *store.PostgresStateStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		db, m, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		mock = m
		s = store.NewPostgresStateStore(sqlx.NewDb(db, "postgres"))
	})

	It("returns ErrNotFound when no row matches", func() {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT value, expires_at FROM state_entries WHERE key = $1`)).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}))

		_, err := s.Get(ctx, "missing")
		Expect(err).To(MatchError(store.ErrNotFound))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("returns the stored value for a live row", func() {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT value, expires_at FROM state_entries WHERE key = $1`)).
			WithArgs("job:1").
			WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}).AddRow([]byte("payload"), nil))

		v, err := s.Get(ctx, "job:1")
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal([]byte("payload")))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("treats an expired row as ErrNotFound", func() {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT value, expires_at FROM state_entries WHERE key = $1`)).
			WithArgs("job:1").
			WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}).AddRow([]byte("payload"), time.Now().Add(-time.Hour)))

		_, err := s.Get(ctx, "job:1")
		Expect(err).To(MatchError(store.ErrNotFound))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("upserts on Set", func() {
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO state_entries (key, value, expires_at)`)).
			WithArgs("job:1", []byte("v"), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		Expect(s.Set(ctx, "job:1", []byte("v"), 0)).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("CAS", func() {
		It("conflicts creating a key that already exists", func() {
			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta(`SELECT value, expires_at FROM state_entries WHERE key = $1 FOR UPDATE`)).
				WithArgs("job:1").
				WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}).AddRow([]byte("existing"), nil))
			mock.ExpectRollback()

			err := s.CAS(ctx, "job:1", nil, []byte("v2"), 0)
			Expect(err).To(MatchError(store.ErrCASConflict))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("succeeds inserting when the row is absent and expected is nil", func() {
			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta(`SELECT value, expires_at FROM state_entries WHERE key = $1 FOR UPDATE`)).
				WithArgs("job:1").
				WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}))
			mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO state_entries (key, value, expires_at) VALUES ($1, $2, $3)`)).
				WithArgs("job:1", []byte("v1"), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectCommit()

			Expect(s.CAS(ctx, "job:1", nil, []byte("v1"), 0)).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("succeeds updating when the stored value matches expected", func() {
			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta(`SELECT value, expires_at FROM state_entries WHERE key = $1 FOR UPDATE`)).
				WithArgs("job:1").
				WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}).AddRow([]byte("v1"), nil))
			mock.ExpectExec(regexp.QuoteMeta(`UPDATE state_entries SET value = $2, expires_at = $3 WHERE key = $1`)).
				WithArgs("job:1", []byte("v2"), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			Expect(s.CAS(ctx, "job:1", []byte("v1"), []byte("v2"), 0)).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	It("deletes a key", func() {
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM state_entries WHERE key = $1`)).
			WithArgs("job:1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		Expect(s.Delete(ctx, "job:1")).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("lists live keys by prefix", func() {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT key FROM state_entries`)).
			WithArgs("job:%").
			WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("job:1").AddRow("job:2"))

		keys, err := s.Keys(ctx, "job:")
		Expect(err).ToNot(HaveOccurred())
		Expect(keys).To(ConsistOf("job:1", "job:2"))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})
})
