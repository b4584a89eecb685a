package service

import (
	"errors"
	"fmt"
)

var (
	// ErrLoad 图像缺失或损坏，无法产生任何结果
	ErrLoad = errors.New("load error")
	// ErrQueueFull 等待处理名额超时
	ErrQueueFull = errors.New("处理队列已满，请稍后重试")
)

// RestorationError 修复失败，Reason 为可读原因
type RestorationError struct {
	Op     string
	Reason string
	Err    error
}

func (e *RestorationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *RestorationError) Unwrap() error {
	return e.Err
}

// stageFailure 阶段失败，调用方回退到阶段输入后继续
type stageFailure struct {
	stage string
	cause any
}

func (f *stageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", f.stage, f.cause)
}

// guard 执行一个阶段并把 panic 转换为错误
func guard(stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &stageFailure{stage: stage, cause: r}
		}
	}()
	if err := fn(); err != nil {
		return &stageFailure{stage: stage, cause: err}
	}
	return nil
}
