// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/jwt"
)

// IdentityKey token 中保存调用方用户名的 claim
const IdentityKey = "sub"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// JWTAuth 编排与 artifact 接口的 Bearer 认证；/agent/message 与 /api/health 不受影响
type JWTAuth struct {
	mw *jwt.HertzJWTMiddleware
}

// NewJWTAuth users 为 用户名 -> 密码；key 为 HS256 签名密钥
func NewJWTAuth(key []byte, users map[string]string, timeout, maxRefresh time.Duration) (*JWTAuth, error) {
	if len(key) == 0 {
		return nil, errors.New("jwt key is empty")
	}
	if len(users) == 0 {
		return nil, errors.New("no api users configured")
	}
	mw, err := jwt.New(&jwt.HertzJWTMiddleware{
		Realm:         "civic-mesh",
		Key:           key,
		Timeout:       timeout,
		MaxRefresh:    maxRefresh,
		IdentityKey:   IdentityKey,
		TokenLookup:   "header: Authorization",
		TokenHeadName: "Bearer",
		TimeFunc:      time.Now,
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if name, ok := data.(string); ok {
				return jwt.MapClaims{IdentityKey: name}
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(ctx context.Context, c *app.RequestContext) interface{} {
			return jwt.ExtractClaims(ctx, c)[IdentityKey]
		},
		Authenticator: func(ctx context.Context, c *app.RequestContext) (interface{}, error) {
			var req loginRequest
			if err := json.Unmarshal(c.Request.Body(), &req); err != nil || req.Username == "" || req.Password == "" {
				return nil, jwt.ErrMissingLoginValues
			}
			want, ok := users[req.Username]
			if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(req.Password)) != 1 {
				return nil, jwt.ErrFailedAuthentication
			}
			return req.Username, nil
		},
		Unauthorized: func(ctx context.Context, c *app.RequestContext, code int, message string) {
			c.JSON(code, map[string]string{"error": message})
		},
	})
	if err != nil {
		return nil, err
	}
	return &JWTAuth{mw: mw}, nil
}

// LoginHandler POST /api/auth/login
func (a *JWTAuth) LoginHandler() app.HandlerFunc { return a.mw.LoginHandler }

// RefreshHandler POST /api/auth/refresh
func (a *JWTAuth) RefreshHandler() app.HandlerFunc { return a.mw.RefreshHandler }

// Middleware 校验 Bearer token
func (a *JWTAuth) Middleware() app.HandlerFunc { return a.mw.MiddlewareFunc() }
