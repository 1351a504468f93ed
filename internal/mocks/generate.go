// Package mocks provides mock implementations for testing the driftwatch engine.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our repository interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockCache := mocks.NewMockCacheRepository(ctrl)
//	mockCache.EXPECT().Get(gomock.Any(), "ratelimit:example.com:http").Return(nil, nil)
package mocks

// Generate mock for CacheRepository interface from internal/core package.
// This creates MockCacheRepository with methods for all CacheRepository interface methods:
// Set, Get, Delete, Exists, SetTTL, TTL, SetIfNotExists, IncrBy, Health
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=cache_repository_mock.go github.com/driftwatch/driftwatch/internal/core CacheRepository
