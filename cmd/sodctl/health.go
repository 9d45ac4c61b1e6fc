package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	apperrors "github.com/GriffinCanCode/good-listener/backend/sod/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/trace"
)

func newHealthCmd() *cobra.Command {
	var (
		addr    string
		service string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query a running server's gRPC health service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			status, err := checkHealth(ctx, addr, service)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", addr, status)
			if status != healthpb.HealthCheckResponse_SERVING {
				return apperrors.Newf(apperrors.CodeUnavailable, "service %q is %s", service, status)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "localhost:50052", "gRPC address")
	f.StringVar(&service, "service", "sod", "Health service name")
	f.DurationVar(&timeout, "timeout", 3*time.Second, "Request timeout")
	return cmd
}

func checkHealth(ctx context.Context, addr, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(trace.UnaryClientInterceptor()),
	)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "dial")
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, apperrors.FromGRPCError(err)
	}
	return resp.GetStatus(), nil
}
