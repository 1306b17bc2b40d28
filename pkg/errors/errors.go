// Package errors 提供统一错误辅助，不依赖 internal
package errors

import (
	"errors"
	"fmt"
)

// 常用哨兵错误；协议层的错误分类在 internal/protocol 中定义
var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidArg = errors.New("invalid argument")
	// ErrUnavailable 下游协作方（embedding / 向量库 / 推理）不可用，调用方应降级而非失败
	ErrUnavailable = errors.New("downstream unavailable")
	ErrConflict    = errors.New("conflict")
)

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Unavailable 将下游错误标记为 ErrUnavailable，同时保留原始错误链
func Unavailable(component string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", component, ErrUnavailable, err)
}

// IsUnavailable 判断是否为下游不可用
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
