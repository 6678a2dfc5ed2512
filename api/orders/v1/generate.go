// Package ordersv1 holds the protobuf messages and gRPC stubs of orders.v1.
package ordersv1

//go:generate protoc -I ../.. --go_out=../.. --go_opt=paths=source_relative --go-grpc_out=../.. --go-grpc_opt=paths=source_relative orders/v1/orders.proto
