//go:build integration

// Integration tests for the MinIO key repository. They need Docker and run
// with:
//
//	go test -v -race -tags=integration ./pkg/stores/minio/...
package minio_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/StricklySoft/stricklysoft-authn/internal/testutil/containers"
	"github.com/StricklySoft/stricklysoft-authn/pkg/config"
	"github.com/StricklySoft/stricklysoft-authn/pkg/protect"
	"github.com/StricklySoft/stricklysoft-authn/pkg/stores/minio"
)

type MinIORepositorySuite struct {
	suite.Suite

	ctx    context.Context
	result *containers.MinIOResult
	repo   *minio.Repository
}

func (s *MinIORepositorySuite) SetupSuite() {
	s.ctx = context.Background()

	result, err := containers.StartMinIO(s.ctx)
	require.NoError(s.T(), err, "failed to start MinIO container")
	s.result = result

	repo, err := minio.New(s.ctx, minio.Config{
		Endpoint:  result.Endpoint,
		AccessKey: result.AccessKey,
		SecretKey: config.Secret(result.SecretKey),
	})
	require.NoError(s.T(), err)
	require.NoError(s.T(), repo.EnsureBucket(s.ctx))
	require.NoError(s.T(), repo.EnsureBucket(s.ctx), "EnsureBucket is idempotent")
	s.repo = repo
}

func (s *MinIORepositorySuite) TearDownSuite() {
	if s.result != nil {
		if err := s.result.Container.Terminate(s.ctx); err != nil {
			s.T().Logf("failed to terminate minio container: %v", err)
		}
	}
}

func TestMinIORepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(MinIORepositorySuite))
}

func (s *MinIORepositorySuite) TestHealth() {
	require.NoError(s.T(), s.repo.Health(s.ctx))
}

func (s *MinIORepositorySuite) TestKeyRoundTrip() {
	now := time.Now().UTC().Truncate(time.Second)
	older, err := protect.NewKeyRecord(now.Add(-time.Hour), now.Add(-time.Hour), 24*time.Hour)
	require.NoError(s.T(), err)
	newer, err := protect.NewKeyRecord(now, now, 24*time.Hour)
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.repo.StoreKey(s.ctx, newer))
	require.NoError(s.T(), s.repo.StoreKey(s.ctx, older))

	records, err := s.repo.LoadKeys(s.ctx)
	require.NoError(s.T(), err)
	require.GreaterOrEqual(s.T(), len(records), 2)

	var iOld, iNew = -1, -1
	for i, r := range records {
		switch r.ID {
		case older.ID:
			iOld = i
		case newer.ID:
			iNew = i
			assert.Equal(s.T(), newer.Material, r.Material)
		}
	}
	require.NotEqual(s.T(), -1, iOld)
	require.NotEqual(s.T(), -1, iNew)
	assert.Less(s.T(), iOld, iNew, "records are ordered by creation")
}

func (s *MinIORepositorySuite) TestKeyManagerGeneratesIntoBucket() {
	km, err := protect.NewKeyManager(s.repo, protect.DefaultKeyManagerConfig())
	require.NoError(s.T(), err)

	key, err := km.DefaultKey(s.ctx)
	require.NoError(s.T(), err)

	records, err := s.repo.LoadKeys(s.ctx)
	require.NoError(s.T(), err)
	var found bool
	for _, r := range records {
		found = found || r.ID == key.ID
	}
	assert.True(s.T(), found)
}
