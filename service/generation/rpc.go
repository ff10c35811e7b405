// Copyright 2025 The fawa Authors
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

package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/fawa-io/roomdesign/pkg/fwlog"
	"github.com/fawa-io/roomdesign/pkg/storage"
)

// RPCService serves GenerationService over connect, gRPC and gRPC-Web.
// Messages are dynamic and shaped by ServiceDescriptor.
type RPCService struct {
	runner Runner
	index  storage.Index
}

// NewRPCService returns an RPCService. index may be nil, which disables
// lookups.
func NewRPCService(runner Runner, index storage.Index) *RPCService {
	return &RPCService{runner: runner, index: index}
}

// NewRPCHandler builds an HTTP handler for svc and returns the path to mount
// it on.
func NewRPCHandler(svc *RPCService, opts ...connect.HandlerOption) (string, http.Handler, error) {
	generate, err := MethodDescriptor("Generate")
	if err != nil {
		return "", nil, err
	}
	lookup, err := MethodDescriptor("Lookup")
	if err != nil {
		return "", nil, err
	}

	common := append([]connect.HandlerOption{
		connect.WithRequestInitializer(initMessage),
		connect.WithReadMaxBytes(MaxImageSize + maxFormOverhead),
	}, opts...)

	generateHandler := connect.NewUnaryHandler(GenerateProcedure, svc.Generate,
		append([]connect.HandlerOption{connect.WithSchema(generate)}, common...)...)
	lookupHandler := connect.NewUnaryHandler(LookupProcedure, svc.Lookup,
		append([]connect.HandlerOption{connect.WithSchema(lookup)}, common...)...)

	return "/" + GenerationServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case GenerateProcedure:
			generateHandler.ServeHTTP(w, r)
		case LookupProcedure:
			lookupHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	}), nil
}

func (s *RPCService) Generate(ctx context.Context, req *connect.Request[dynamicpb.Message]) (*connect.Response[dynamicpb.Message], error) {
	msg := req.Msg
	image := getField(msg, "image").Bytes()
	if len(image) > MaxImageSize {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("image too large, maximum size is 10MB"))
	}
	if len(image) > 0 && !strings.HasPrefix(http.DetectContentType(image), "image/") {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid file type, please upload an image (JPEG/PNG)"))
	}

	var links []string
	list := getField(msg, "furniture_links").List()
	for i := 0; i < list.Len(); i++ {
		links = append(links, list.Get(i).String())
	}

	gen, err := NewRequest(image, getField(msg, "prompt").String(), getField(msg, "theme").String(), links)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	obj, err := s.runner.Run(ctx, gen)
	if err != nil {
		fwlog.Errorf("Generate RPC error: %v", err)
		code := connect.CodeInternal
		switch {
		case errors.Is(err, storage.ErrNotInitialized):
			code = connect.CodeUnavailable
		case errors.Is(err, context.Canceled):
			code = connect.CodeCanceled
		case errors.Is(err, context.DeadlineExceeded):
			code = connect.CodeDeadlineExceeded
		}
		return nil, connect.NewError(code, fmt.Errorf("image generation failed: %w", err))
	}

	res := newOutput(req.Spec())
	setField(res, "id", protoreflect.ValueOfString(obj.ID))
	setField(res, "key", protoreflect.ValueOfString(obj.Key))
	setField(res, "generated_image_url", protoreflect.ValueOfString(obj.Reference))
	setField(res, "message", protoreflect.ValueOfString("Image generated successfully"))
	setField(res, "furniture_count", protoreflect.ValueOfInt32(int32(gen.FurnitureCount())))
	return connect.NewResponse(res), nil
}

func (s *RPCService) Lookup(ctx context.Context, req *connect.Request[dynamicpb.Message]) (*connect.Response[dynamicpb.Message], error) {
	id := getField(req.Msg, "id").String()
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("id cannot be empty"))
	}
	if s.index == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("artifact index is disabled"))
	}

	obj, err := s.index.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, connect.NewError(connect.CodeNotFound, errors.New("artifact not found or expired"))
		}
		fwlog.Errorf("Failed to look up artifact %s: %v", id, err)
		return nil, connect.NewError(connect.CodeInternal, errors.New("could not look up artifact"))
	}

	res := newOutput(req.Spec())
	setField(res, "id", protoreflect.ValueOfString(obj.ID))
	setField(res, "key", protoreflect.ValueOfString(obj.Key))
	setField(res, "reference", protoreflect.ValueOfString(obj.Reference))
	setField(res, "content_type", protoreflect.ValueOfString(obj.ContentType))
	setField(res, "size", protoreflect.ValueOfInt64(obj.Size))
	return connect.NewResponse(res), nil
}

// initMessage gives an empty dynamic message the type named by the
// procedure's schema before it is unmarshaled into.
func initMessage(spec connect.Spec, msg any) error {
	m, ok := msg.(*dynamicpb.Message)
	if !ok {
		return fmt.Errorf("unexpected message type %T", msg)
	}
	md, ok := spec.Schema.(protoreflect.MethodDescriptor)
	if !ok {
		return fmt.Errorf("procedure %s has no schema", spec.Procedure)
	}
	desc := md.Input()
	if spec.IsClient {
		desc = md.Output()
	}
	*m = *dynamicpb.NewMessage(desc)
	return nil
}

func newOutput(spec connect.Spec) *dynamicpb.Message {
	return dynamicpb.NewMessage(spec.Schema.(protoreflect.MethodDescriptor).Output())
}

func getField(m *dynamicpb.Message, name protoreflect.Name) protoreflect.Value {
	return m.Get(m.Descriptor().Fields().ByName(name))
}

func setField(m *dynamicpb.Message, name protoreflect.Name, v protoreflect.Value) {
	m.Set(m.Descriptor().Fields().ByName(name), v)
}
