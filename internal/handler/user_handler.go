package handler

import (
	"context"

	"github.com/hitoshi/hr360/internal/middleware"
	"github.com/hitoshi/hr360/internal/model"
	"github.com/hitoshi/hr360/internal/rpc"
	"github.com/hitoshi/hr360/internal/user"
)

// UserServiceInterface はuser名前空間のプロシージャが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetUser(ctx context.Context) (*user.Profile, error)
	Me(ctx context.Context, userID string) (*model.User, error)
}

// UserHandler はuser名前空間のtRPCプロシージャを提供する。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// Register はuser名前空間のプロシージャをルーターに登録する。
//
//	user.getUser  query（認証不要）
//	user.me       query（要ログイン）
func (h *UserHandler) Register(rt *rpc.Router) {
	rt.Register("user.getUser", rpc.Query(h.getUser))
	rt.Register("user.me", rpc.Protected(rpc.Query(h.me)))
}

func (h *UserHandler) getUser(ctx context.Context, _ struct{}) (*user.Profile, error) {
	return h.service.GetUser(ctx)
}

func (h *UserHandler) me(ctx context.Context, _ struct{}) (*model.User, error) {
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		return nil, rpc.NewError(rpc.CodeUnauthorized, "認証が必要です。")
	}
	return h.service.Me(ctx, userID)
}
