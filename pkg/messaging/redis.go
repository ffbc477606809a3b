package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Publisher Redis pub/sub 채널에 JSON 메시지를 발행합니다.
type Publisher interface {
	// Publish message를 JSON으로 직렬화해 발행하고, 메시지를 받은 구독자 수를 반환합니다.
	Publish(ctx context.Context, channel string, message interface{}) (int64, error)
}

type redisPublisher struct {
	client redis.UniversalClient
}

// NewRedisPublisher 락과 연결 풀을 공유하는 go-redis 클라이언트로 발행자를 만듭니다.
// 클라이언트 종료는 호출자가 책임집니다.
func NewRedisPublisher(client redis.UniversalClient) Publisher {
	return &redisPublisher{client: client}
}

func (r *redisPublisher) Publish(ctx context.Context, channel string, message interface{}) (int64, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return 0, fmt.Errorf("메시지 직렬화 실패: %w", err)
	}

	receivers, err := r.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("%s 채널 발행 실패: %w", channel, err)
	}
	return receivers, nil
}
