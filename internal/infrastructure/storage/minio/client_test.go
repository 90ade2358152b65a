package minio

import (
	"context"
	"errors"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/RetinaGuard/internal/config"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/turtacn/RetinaGuard/pkg/errors"
)

type MockObjectAPI struct {
	mock.Mock
}

func (m *MockObjectAPI) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *MockObjectAPI) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return m.Called(ctx, bucketName, opts).Error(0)
}

func (m *MockObjectAPI) SetBucketLifecycle(ctx context.Context, bucketName string, cfg *lifecycle.Configuration) error {
	return m.Called(ctx, bucketName, cfg).Error(0)
}

func (m *MockObjectAPI) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, reader, objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *MockObjectAPI) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	args := m.Called(ctx, bucketName, opts)
	return args.Get(0).(<-chan minio.ObjectInfo)
}

func (m *MockObjectAPI) PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error) {
	args := m.Called(ctx, bucketName, objectName, expiry, reqParams)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*url.URL), args.Error(1)
}

type ClientTestSuite struct {
	suite.Suite
	api    *MockObjectAPI
	client *Client
	ctx    context.Context
}

func (s *ClientTestSuite) SetupTest() {
	s.api = new(MockObjectAPI)
	s.client = NewClientWithAPI(s.api, config.MinIOConfig{Bucket: "scans", RetentionDays: 30}, logging.NewNopLogger())
	s.ctx = context.Background()
}

func (s *ClientTestSuite) TearDownTest() {
	s.api.AssertExpectations(s.T())
}

func (s *ClientTestSuite) TestDefaults() {
	c := NewClientWithAPI(s.api, config.MinIOConfig{}, logging.NewNopLogger())
	s.Equal(config.DefaultMinIOBucket, c.Bucket())
	s.Equal(config.DefaultMinIORegion, c.cfg.Region)
}

func (s *ClientTestSuite) TestEnsureBucket_Exists() {
	s.api.On("BucketExists", s.ctx, "scans").Return(true, nil).Once()
	s.NoError(s.client.EnsureBucket(s.ctx))
}

func (s *ClientTestSuite) TestEnsureBucket_Creates() {
	s.api.On("BucketExists", s.ctx, "scans").Return(false, nil).Once()
	s.api.On("MakeBucket", s.ctx, "scans", minio.MakeBucketOptions{Region: config.DefaultMinIORegion}).Return(nil).Once()
	s.NoError(s.client.EnsureBucket(s.ctx))
}

func (s *ClientTestSuite) TestEnsureBucket_Failure() {
	s.api.On("BucketExists", s.ctx, "scans").Return(false, errors.New("dial tcp")).Once()
	err := s.client.EnsureBucket(s.ctx)
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeStorageError))
}

func (s *ClientTestSuite) TestSetupLifecycle() {
	s.api.On("SetBucketLifecycle", s.ctx, "scans", mock.MatchedBy(func(lc *lifecycle.Configuration) bool {
		return len(lc.Rules) == 1 &&
			lc.Rules[0].RuleFilter.Prefix == scanPrefix &&
			lc.Rules[0].Expiration.Days == 30
	})).Return(nil).Once()
	s.NoError(s.client.SetupLifecycle(s.ctx))
}

func (s *ClientTestSuite) TestSetupLifecycle_Disabled() {
	c := NewClientWithAPI(s.api, config.MinIOConfig{Bucket: "scans"}, logging.NewNopLogger())
	s.NoError(c.SetupLifecycle(s.ctx))
}

func (s *ClientTestSuite) TestHealthCheck() {
	s.api.On("BucketExists", s.ctx, "scans").Return(true, nil).Once()
	s.NoError(s.client.HealthCheck(s.ctx))

	s.api.On("BucketExists", s.ctx, "scans").Return(false, nil).Once()
	s.True(pkgerrors.IsCode(s.client.HealthCheck(s.ctx), pkgerrors.ErrCodeServiceUnavailable))

	s.NoError(s.client.Close())
	s.Equal(ErrClientClosed, s.client.HealthCheck(s.ctx))
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}
