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
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	// GenerationServiceName is the fully-qualified name of the RPC service.
	GenerationServiceName = "roomdesign.generation.v1.GenerationService"

	// GenerateProcedure and LookupProcedure are the RPC paths.
	GenerateProcedure = "/" + GenerationServiceName + "/Generate"
	LookupProcedure   = "/" + GenerationServiceName + "/Lookup"

	schemaPackage = "roomdesign.generation.v1"
)

var (
	schemaOnce sync.Once
	schemaSvc  protoreflect.ServiceDescriptor
	schemaErr  error
)

// ServiceDescriptor returns the schema of GenerationService:
//
//	service GenerationService {
//	  rpc Generate(GenerateRequest) returns (GenerateResponse);
//	  rpc Lookup(LookupRequest) returns (LookupResponse);
//	}
func ServiceDescriptor() (protoreflect.ServiceDescriptor, error) {
	schemaOnce.Do(func() {
		fd, err := protodesc.NewFile(generationFile(), new(protoregistry.Files))
		if err != nil {
			schemaErr = fmt.Errorf("build generation schema: %w", err)
			return
		}
		schemaSvc = fd.Services().ByName("GenerationService")
	})
	return schemaSvc, schemaErr
}

// MethodDescriptor returns the schema of one GenerationService method.
func MethodDescriptor(name protoreflect.Name) (protoreflect.MethodDescriptor, error) {
	svc, err := ServiceDescriptor()
	if err != nil {
		return nil, err
	}
	md := svc.Methods().ByName(name)
	if md == nil {
		return nil, fmt.Errorf("unknown method %s", name)
	}
	return md, nil
}

func generationFile() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("roomdesign/generation/v1/generation.proto"),
		Package: proto.String(schemaPackage),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("GenerateRequest",
				field("image", 1, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
				field("prompt", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("theme", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				repeated(field("furniture_links", 4, descriptorpb.FieldDescriptorProto_TYPE_STRING)),
			),
			message("GenerateResponse",
				field("id", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("key", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("generated_image_url", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("message", 4, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("furniture_count", 5, descriptorpb.FieldDescriptorProto_TYPE_INT32),
			),
			message("LookupRequest",
				field("id", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			),
			message("LookupResponse",
				field("id", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("key", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("reference", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("content_type", 4, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("size", 5, descriptorpb.FieldDescriptorProto_TYPE_INT64),
			),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("GenerationService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method("Generate", "GenerateRequest", "GenerateResponse"),
				method("Lookup", "LookupRequest", "LookupResponse"),
			},
		}},
	}
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func method(name, in, out string) *descriptorpb.MethodDescriptorProto {
	return &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String("." + schemaPackage + "." + in),
		OutputType: proto.String("." + schemaPackage + "." + out),
	}
}
