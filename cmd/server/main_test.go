package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	apperrors "github.com/Corphon/CompanionStories/internal/errors"
)

type fakeCloser struct {
	closed bool
	err    error
}

func (f *fakeCloser) Close() error {
	f.closed = true
	return f.err
}

func TestCloseAllClosesEveryResource(t *testing.T) {
	failing := &fakeCloser{err: errors.New("磁盘已满")}
	last := &fakeCloser{}

	closeAll(failing, last)

	if !failing.closed || !last.closed {
		t.Fatalf("所有资源都应被关闭: %+v %+v", failing, last)
	}
}

func TestReportInitFailure(t *testing.T) {
	var out bytes.Buffer
	reportInitFailure(&out, apperrors.NewContentValidationError([]string{
		"角色 1: 缺少 'id' 字段",
		"角色 'a' 的故事, 事件 1, 选项 1: 引用的事件ID 'x' 不存在",
	}))

	want := "内容校验失败，共 2 个错误:\n" +
		"  - 角色 1: 缺少 'id' 字段\n" +
		"  - 角色 'a' 的故事, 事件 1, 选项 1: 引用的事件ID 'x' 不存在\n"
	if out.String() != want {
		t.Fatalf("输出不符:\n%s", out.String())
	}

	out.Reset()
	reportInitFailure(&out, apperrors.NewContentLoadError("读取 characters.json 失败", nil))
	if !strings.Contains(out.String(), "加载故事内容失败: 读取 characters.json 失败") {
		t.Fatalf("加载失败输出不符: %s", out.String())
	}
}
