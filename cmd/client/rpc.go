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

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/fawa-io/roomdesign/service/generation"
)

// generateRPC calls GenerationService.Generate instead of posting a form.
func generateRPC(ctx context.Context, client connect.HTTPClient, o options) (*result, error) {
	image, err := os.ReadFile(o.image)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	md, err := generation.MethodDescriptor("Generate")
	if err != nil {
		return nil, err
	}

	gc := connect.NewClient[dynamicpb.Message, dynamicpb.Message](client,
		strings.TrimRight(o.server, "/")+generation.GenerateProcedure,
		connect.WithSchema(md),
		connect.WithResponseInitializer(func(_ connect.Spec, msg any) error {
			*msg.(*dynamicpb.Message) = *dynamicpb.NewMessage(md.Output())
			return nil
		}),
	)

	in := dynamicpb.NewMessage(md.Input())
	fields := md.Input().Fields()
	in.Set(fields.ByName("image"), protoreflect.ValueOfBytes(image))
	in.Set(fields.ByName("prompt"), protoreflect.ValueOfString(o.prompt))
	in.Set(fields.ByName("theme"), protoreflect.ValueOfString(o.theme))
	links := in.Mutable(fields.ByName("furniture_links")).List()
	for _, l := range strings.Split(o.links, ",") {
		links.Append(protoreflect.ValueOfString(l))
	}

	res, err := gc.CallUnary(ctx, connect.NewRequest(in))
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	out := res.Msg
	outFields := md.Output().Fields()
	return &result{
		Success:           true,
		ID:                out.Get(outFields.ByName("id")).String(),
		GeneratedImageURL: out.Get(outFields.ByName("generated_image_url")).String(),
		FurnitureCount:    int(out.Get(outFields.ByName("furniture_count")).Int()),
	}, nil
}
