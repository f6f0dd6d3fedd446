// Package rpc はtRPC互換のHTTPワイヤーフォーマットで型付きプロシージャを公開する。
package rpc

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/hitoshi/hr360/internal/middleware"
)

// ProcedureType はプロシージャの種別。
type ProcedureType string

const (
	// TypeQuery はGETで呼び出す読み取り専用のプロシージャ。
	TypeQuery ProcedureType = "query"
	// TypeMutation はPOSTで呼び出す状態変更のプロシージャ。
	TypeMutation ProcedureType = "mutation"
)

// Procedure は登録可能なプロシージャ。
// QueryまたはMutationで生成する。
type Procedure struct {
	typ       ProcedureType
	protected bool
	call      func(ctx context.Context, input json.RawMessage) (any, error)
}

// Type はプロシージャの種別を返す。
func (p *Procedure) Type() ProcedureType { return p.typ }

// Query は入力Iを受け取りOを返すqueryプロシージャを生成する。
func Query[I, O any](fn func(ctx context.Context, in I) (O, error)) *Procedure {
	return newProcedure(TypeQuery, fn)
}

// Mutation は入力Iを受け取りOを返すmutationプロシージャを生成する。
func Mutation[I, O any](fn func(ctx context.Context, in I) (O, error)) *Procedure {
	return newProcedure(TypeMutation, fn)
}

// Protected は認証済みセッションを必須にしたプロシージャを返す。
func Protected(p *Procedure) *Procedure {
	cp := *p
	cp.protected = true
	return &cp
}

func newProcedure[I, O any](typ ProcedureType, fn func(ctx context.Context, in I) (O, error)) *Procedure {
	return &Procedure{
		typ: typ,
		call: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var in I
			if !isEmptyInput(raw) {
				if err := json.Unmarshal(raw, &in); err != nil {
					return nil, &Error{Code: CodeBadRequest, Message: "入力の形式が正しくありません", Cause: err}
				}
			}
			return fn(ctx, in)
		},
	}
}

func (p *Procedure) invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	if p.protected {
		if _, ok := middleware.SessionFromContext(ctx); !ok {
			return nil, NewError(CodeUnauthorized, "認証が必要です。")
		}
	}
	return p.call(ctx, raw)
}

func isEmptyInput(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
