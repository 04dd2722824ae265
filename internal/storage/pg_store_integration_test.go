package storage

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	storefronterrors "github.com/abgdnv/tarpets/internal/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const skipIntegrationTests = "STOREFRONT_SKIP_INTEGRATION_TESTS"

// PgStoreSuite runs the KV contract against a real PostgreSQL.
type PgStoreSuite struct {
	suite.Suite
	pgContainer *postgres.PostgresContainer
	dbPool      *pgxpool.Pool
	store       KV
	logger      *slog.Logger
	ctx         context.Context
}

func (s *PgStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error
	s.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:17.5-alpine",
		postgres.WithDatabase("storefront_db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432/tcp"),
		),
	)
	require.NoError(s.T(), err, "Failed to run PostgreSQL container")

	connStr, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err, "Failed to get connection string from container")

	s.dbPool, err = pgxpool.New(s.ctx, connStr)
	require.NoError(s.T(), err, "Failed to create pgxpool")

	for i := range 10 {
		s.logger.Info("Pinging PostgreSQL database", "attempt", i+1)
		err = s.dbPool.Ping(s.ctx)
		if err == nil {
			break
		}
		time.Sleep(time.Second * 2)
	}
	require.NoError(s.T(), err, "Failed to connect to PostgreSQL after retries")

	require.NoError(s.T(), Migrate(connStr), "Failed to apply migrations")
	require.NoError(s.T(), Migrate(connStr), "Second migration run must be a no-op")

	s.store = NewPgStore(s.dbPool, 64)
}

func (s *PgStoreSuite) TearDownSuite() {
	if s.dbPool != nil {
		s.dbPool.Close()
	}
	if s.pgContainer != nil {
		if err := s.pgContainer.Terminate(s.ctx); err != nil {
			s.logger.Warn("failed to terminate PostgreSQL container", "error", err)
		}
	}
}

func (s *PgStoreSuite) SetupTest() {
	_, err := s.dbPool.Exec(s.ctx, "TRUNCATE TABLE cart_slots")
	require.NoError(s.T(), err, "Failed to truncate cart_slots table")
}

func TestPgStoreIntegration(t *testing.T) {
	if os.Getenv(skipIntegrationTests) == "1" {
		t.Skip("Skipping integration tests based on " + skipIntegrationTests + " env var")
	}
	suite.Run(t, new(PgStoreSuite))
}

func (s *PgStoreSuite) TestGet_NotFound() {
	_, err := s.store.Get(s.ctx, "tarPetsCart:missing")
	s.Require().ErrorIs(err, storefronterrors.ErrSlotNotFound)
}

func (s *PgStoreSuite) TestPut_UpsertsAndBumpsVersion() {
	// given
	s.Require().NoError(s.store.Put(s.ctx, "tarPetsCart:s1", []byte(`[]`)))

	// when
	s.Require().NoError(s.store.Put(s.ctx, "tarPetsCart:s1", []byte(`[{"id":1}]`)))

	// then
	got, err := s.store.Get(s.ctx, "tarPetsCart:s1")
	s.Require().NoError(err)
	s.Equal(`[{"id":1}]`, string(got))

	var version int
	err = s.dbPool.QueryRow(s.ctx, "SELECT version FROM cart_slots WHERE key = $1", "tarPetsCart:s1").Scan(&version)
	s.Require().NoError(err)
	s.Equal(2, version)
}

func (s *PgStoreSuite) TestPut_StoresArbitraryBytes() {
	// given
	corrupt := []byte("{not json")

	// when
	s.Require().NoError(s.store.Put(s.ctx, "tarPetsCart:s2", corrupt))

	// then
	got, err := s.store.Get(s.ctx, "tarPetsCart:s2")
	s.Require().NoError(err)
	s.Equal(corrupt, got)
}

func (s *PgStoreSuite) TestPut_QuotaExceeded() {
	err := s.store.Put(s.ctx, "tarPetsCart:s3", make([]byte, 65))
	s.Require().ErrorIs(err, storefronterrors.ErrQuotaExceeded)

	_, err = s.store.Get(s.ctx, "tarPetsCart:s3")
	s.Require().ErrorIs(err, storefronterrors.ErrSlotNotFound)
}

func (s *PgStoreSuite) TestDelete() {
	// given
	s.Require().NoError(s.store.Put(s.ctx, "tarPetsCart:s4", []byte(`[]`)))

	// when
	s.Require().NoError(s.store.Delete(s.ctx, "tarPetsCart:s4"))
	s.Require().NoError(s.store.Delete(s.ctx, "tarPetsCart:s4"))

	// then
	_, err := s.store.Get(s.ctx, "tarPetsCart:s4")
	s.Require().ErrorIs(err, storefronterrors.ErrSlotNotFound)
}
