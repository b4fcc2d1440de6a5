package errors

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"testing"
)

func TestClassificationThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("开始故事: %w", NewCharacterNotFoundError("ghost"))

	if !IsNotFoundError(wrapped) || !IsNavigationError(wrapped) {
		t.Fatal("包装后的角色不存在错误应被识别")
	}
	if IsMisuseError(wrapped) || IsContentLoadError(wrapped) {
		t.Fatal("角色不存在不应被归为误用或加载错误")
	}
	if got, ok := TypeOf(wrapped); !ok || got != ErrorTypeCharacterNotFound {
		t.Fatalf("错误类型不符: %v", got)
	}
	if IsType(fmt.Errorf("plain"), ErrorTypeCharacterNotFound) {
		t.Fatal("普通错误不应匹配任何类型")
	}
}

func TestMisuseErrors(t *testing.T) {
	for _, err := range []error{NewNotInitializedError(), NewAlreadyInitializedError(), NewNoCurrentEventError()} {
		if !IsMisuseError(err) || IsNavigationError(err) {
			t.Fatalf("%v 应被归为误用错误", err)
		}
	}
}

func TestValidationDetailsAreVerbatim(t *testing.T) {
	details := []string{"角色 1: 缺少 'id' 字段", "角色 'a' 的故事, 事件 2: 结局事件必须带有 'ending_note' 字段"}
	err := NewContentValidationError(details)
	details[0] = "changed"

	got := ValidationDetails(WrapError(err, "初始化", ErrorTypeError))
	want := []string{"角色 1: 缺少 'id' 字段", "角色 'a' 的故事, 事件 2: 结局事件必须带有 'ending_note' 字段"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("明细不符: %v", got)
	}
	if err.Code != "CONTENT_VALIDATION_FAILED" {
		t.Fatalf("错误代码不符: %s", err.Code)
	}
	if ValidationDetails(NewEmptyStoryError("a")) != nil {
		t.Fatal("非校验错误不应带有明细")
	}
}

func TestWrapErrorKeepsType(t *testing.T) {
	if WrapError(nil, "x", ErrorTypeError) != nil {
		t.Fatal("包装 nil 应返回 nil")
	}

	err := WrapError(NewInvalidChoiceIndexError(5, 2), "选择", ErrorTypeError)
	if !IsType(err, ErrorTypeInvalidChoiceIndex) {
		t.Fatalf("包装后应保留原类型: %v", err)
	}

	cause := fmt.Errorf("HTTP 404: Not Found")
	loadErr := WrapError(NewContentLoadError("读取 characters.json 失败", cause), "加载角色失败", ErrorTypeContentLoad)
	want := "加载角色失败: 读取 characters.json 失败: HTTP 404: Not Found"
	if loadErr.Error() != want {
		t.Fatalf("错误信息应只包含一次内层信息\n期望 %q\n实际 %q", want, loadErr.Error())
	}
	if !IsContentLoadError(loadErr) {
		t.Fatal("包装后应保留加载错误类型")
	}
	if !stderrors.Is(loadErr, cause) {
		t.Fatal("包装后应保留原始原因")
	}
}
