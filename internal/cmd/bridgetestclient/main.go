package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/grpcbridge/callbridge"
	"github.com/grpcbridge/callbridge/internal"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:26354", "the address of the bridge test server")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	cc, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = cc.Close()
	}()

	b := callbridge.NewBridge(callbridge.NewGRPCChannel(cc), callbridge.Logger(logger))
	if err := internal.SendCalls(context.Background(), b); err != nil {
		log.Fatal(err)
	}
	log.Println("Success!")
}
