package logger

import (
	"context"
	"path"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewGrpcUnaryServerInterceptor는 단일 요청/응답 gRPC 메서드에 대한 로깅 인터셉터를 생성합니다.
func NewGrpcUnaryServerInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		startTime := time.Now()
		resp, err := handler(ctx, req)
		logGrpcCall(logger, "gRPC 요청", info.FullMethod, err, time.Since(startTime))
		return resp, err
	}
}

// NewGrpcStreamServerInterceptor는 스트리밍 gRPC 메서드에 대한 로깅 인터셉터를 생성합니다.
// 헬스체크 Watch 스트림처럼 오래 유지되는 호출도 종료 시점에 한 번만 기록합니다.
func NewGrpcStreamServerInterceptor(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		startTime := time.Now()
		err := handler(srv, ss)
		logGrpcCall(logger, "gRPC 스트림", info.FullMethod, err, time.Since(startTime),
			zap.Bool("grpc.is_client_stream", info.IsClientStream),
			zap.Bool("grpc.is_server_stream", info.IsServerStream),
		)
		return err
	}
}

// NewGrpcServerOptions는 로깅 인터셉터가 설정된 서버 옵션을 반환합니다.
func NewGrpcServerOptions(logger *zap.Logger) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.UnaryInterceptor(NewGrpcUnaryServerInterceptor(logger)),
		grpc.StreamInterceptor(NewGrpcStreamServerInterceptor(logger)),
	}
}

func logGrpcCall(logger *zap.Logger, prefix, fullMethod string, err error, duration time.Duration, extra ...zap.Field) {
	statusCode := codes.OK
	if err != nil {
		if st, ok := status.FromError(err); ok {
			statusCode = st.Code()
		} else {
			statusCode = codes.Unknown
		}
	}

	fields := []zap.Field{
		zap.String("grpc.service", path.Dir(fullMethod)[1:]),
		zap.String("grpc.method", path.Base(fullMethod)),
		zap.String("grpc.code", statusCode.String()),
		zap.Duration("grpc.duration", duration),
	}
	fields = append(fields, extra...)

	switch statusCode {
	case codes.OK:
		logger.Info(prefix+" 완료", fields...)
	case codes.Canceled, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Aborted, codes.Unavailable, codes.DataLoss:
		logger.Warn(prefix+" 실패", append(fields, zap.Error(err))...)
	default:
		logger.Error(prefix+" 오류", append(fields, zap.Error(err))...)
	}
}
