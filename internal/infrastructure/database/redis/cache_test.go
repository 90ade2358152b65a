package redis

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/RetinaGuard/internal/config"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/turtacn/RetinaGuard/pkg/errors"
)

type summary struct {
	ClinicID string `json:"clinicId"`
	High     int    `json:"highCount"`
}

type CacheTestSuite struct {
	suite.Suite
	mock  redismock.ClientMock
	cache Cache
}

func (s *CacheTestSuite) SetupTest() {
	db, mock := redismock.NewClientMock()
	s.mock = mock
	client := NewClientWithRedis(db, "rg:", logging.NewNopLogger())
	s.cache = NewRedisCache(client, logging.NewNopLogger(), WithJitter(false))
}

func (s *CacheTestSuite) TearDownTest() {
	assert.NoError(s.T(), s.mock.ExpectationsWereMet())
}

func (s *CacheTestSuite) TestGet_Hit() {
	val := summary{ClinicID: "c-1", High: 3}
	b, _ := json.Marshal(val)
	s.mock.ExpectGet("rg:cache:k1").SetVal(string(b))

	var dest summary
	s.Require().NoError(s.cache.Get(context.Background(), "k1", &dest))
	s.Equal(val, dest)
}

func (s *CacheTestSuite) TestGet_Miss() {
	s.mock.ExpectGet("rg:cache:k1").RedisNil()

	var dest summary
	err := s.cache.Get(context.Background(), "k1", &dest)
	s.Equal(ErrCacheMiss, err)
}

func (s *CacheTestSuite) TestGet_BackendError() {
	s.mock.ExpectGet("rg:cache:k1").SetErr(assert.AnError)

	var dest summary
	err := s.cache.Get(context.Background(), "k1", &dest)
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeCacheError))
}

func (s *CacheTestSuite) TestSet_UsesExactTTL() {
	b, _ := json.Marshal(summary{ClinicID: "c-1"})
	s.mock.ExpectSet("rg:cache:k1", b, 2*time.Minute).SetVal("OK")

	s.NoError(s.cache.Set(context.Background(), "k1", summary{ClinicID: "c-1"}, 2*time.Minute))
}

func (s *CacheTestSuite) TestDelete() {
	s.mock.ExpectDel("rg:cache:k1", "rg:cache:k2").SetVal(2)
	s.NoError(s.cache.Delete(context.Background(), "k1", "k2"))
}

func (s *CacheTestSuite) TestExists() {
	s.mock.ExpectExists("rg:cache:k1").SetVal(1)

	ok, err := s.cache.Exists(context.Background(), "k1")
	s.NoError(err)
	s.True(ok)
}

func (s *CacheTestSuite) TestGetOrSet_HitSkipsLoader() {
	b, _ := json.Marshal(summary{ClinicID: "c-1", High: 1})
	s.mock.ExpectGet("rg:cache:k1").SetVal(string(b))

	var dest summary
	err := s.cache.GetOrSet(context.Background(), "k1", &dest, time.Minute, func(context.Context) (interface{}, error) {
		s.Fail("loader called on hit")
		return nil, nil
	})
	s.NoError(err)
	s.Equal(1, dest.High)
}

func (s *CacheTestSuite) TestGetOrSet_LoaderErrorReturnedUnchanged() {
	s.mock.ExpectGet("rg:cache:k1").RedisNil()

	var dest summary
	err := s.cache.GetOrSet(context.Background(), "k1", &dest, time.Minute, func(context.Context) (interface{}, error) {
		return nil, assert.AnError
	})
	s.Equal(assert.AnError, err)
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "rg:"}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestGetOrSet_LoadsOnceAndStores(t *testing.T) {
	mr, client := newMiniredisClient(t)
	cache := NewRedisCache(client, logging.NewNopLogger(), WithJitter(false))

	var calls int32
	loader := func(context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return summary{ClinicID: "c-1", High: 4}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var dest summary
			assert.NoError(t, cache.GetOrSet(context.Background(), "sum:c-1", &dest, time.Minute, loader))
			assert.Equal(t, 4, dest.High)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.True(t, mr.Exists("rg:cache:sum:c-1"))
	assert.Equal(t, time.Minute, mr.TTL("rg:cache:sum:c-1"))

	var again summary
	require.NoError(t, cache.GetOrSet(context.Background(), "sum:c-1", &again, time.Minute, loader))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDeleteByPrefix(t *testing.T) {
	mr, client := newMiniredisClient(t)
	cache := NewRedisCache(client, logging.NewNopLogger())
	ctx := context.Background()

	for _, k := range []string{"alert_summary:c-1:5", "alert_summary:c-2:5", "other:x"} {
		require.NoError(t, cache.Set(ctx, k, summary{}, time.Minute))
	}

	n, err := cache.DeleteByPrefix(ctx, "alert_summary:")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.False(t, mr.Exists("rg:cache:alert_summary:c-1:5"))
	assert.True(t, mr.Exists("rg:cache:other:x"))
}

func TestSet_JitterStaysWithinTenPercent(t *testing.T) {
	mr, client := newMiniredisClient(t)
	cache := NewRedisCache(client, logging.NewNopLogger())

	require.NoError(t, cache.Set(context.Background(), "k", 1, 100*time.Second))
	ttl := mr.TTL("rg:cache:k")
	assert.GreaterOrEqual(t, ttl, 90*time.Second)
	assert.LessOrEqual(t, ttl, 110*time.Second)
}
