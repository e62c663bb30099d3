// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package remote

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "seqgen.remote.StoreService"

// storeService is implemented by the server side handler.
type storeService interface {
	Execute(context.Context, *ExecuteRequest) (*ExecuteResponse, error)
	Begin(context.Context, *BeginRequest) (*BeginResponse, error)
	Commit(context.Context, *EndRequest) (*EndResponse, error)
	Rollback(context.Context, *EndRequest) (*EndResponse, error)
	Describe(context.Context, *DescribeRequest) (*DescribeResponse, error)
}

func fullMethod(name string) string { return "/" + serviceName + "/" + name }

// unaryHandler adapts one storeService method to grpc.MethodDesc.
func unaryHandler[Req any, Resp any](name string, call func(storeService, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(storeService), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(storeService), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*storeService)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Execute", storeService.Execute),
		unaryHandler("Begin", storeService.Begin),
		unaryHandler("Commit", storeService.Commit),
		unaryHandler("Rollback", storeService.Rollback),
		unaryHandler("Describe", storeService.Describe),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "seqgen/remote",
}
