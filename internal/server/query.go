package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The query service is described by hand over well-known protobuf types so
// it needs no generated stubs:
//
//	service pmm.v1.PoolQuery {
//	  rpc GetPool(google.protobuf.StringValue) returns (google.protobuf.Struct);
//	  rpc GetMidPrice(google.protobuf.StringValue) returns (google.protobuf.StringValue);
//	}
//
// The StringValue request carries the pool id.
const PoolQueryServiceName = "pmm.v1.PoolQuery"

type poolQueryService interface {
	GetPool(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetMidPrice(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

var poolQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: PoolQueryServiceName,
	HandlerType: (*poolQueryService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetPool", Handler: getPoolHandler},
		{MethodName: "GetMidPrice", Handler: getMidPriceHandler},
	},
	Streams: []grpc.StreamDesc{},
}

type poolQueryServer struct {
	pools PoolReader
}

func (s *poolQueryServer) GetPool(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	id, err := parsePoolID(req)
	if err != nil {
		return nil, toStatus(err)
	}
	p, err := s.pools.Pool(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	data, err := json.Marshal(newPoolView(p))
	if err != nil {
		return nil, toStatus(err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, toStatus(err)
	}
	return out, nil
}

func (s *poolQueryServer) GetMidPrice(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	id, err := parsePoolID(req)
	if err != nil {
		return nil, toStatus(err)
	}
	mid, err := s.pools.MidPrice(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(mid.String()), nil
}

func parsePoolID(req *wrapperspb.StringValue) (uuid.UUID, error) {
	id, err := uuid.Parse(req.GetValue())
	if err != nil {
		return uuid.Nil, fmt.Errorf("pool id: %v: %w", err, errBadRequest)
	}
	return id, nil
}

func getPoolHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(poolQueryService).GetPool(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + PoolQueryServiceName + "/GetPool"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(poolQueryService).GetPool(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func getMidPriceHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(poolQueryService).GetMidPrice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + PoolQueryServiceName + "/GetMidPrice"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(poolQueryService).GetMidPrice(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}
