package cache

import (
	"context"
	"time"
)

// Store 缓存存储接口；值以 JSON 序列化保存，Get 未命中返回 errors.ErrNotFound
type Store interface {
	// Set 写入缓存，expiration<=0 表示使用实现的默认时长（可能为永久）
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	// Get 读取缓存并反序列化到 dest
	Get(ctx context.Context, key string, dest any) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Clear 清除本 Store 管理的全部键
	Clear(ctx context.Context) error
	Close() error
}
