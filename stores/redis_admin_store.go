package stores

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/rowguard"
)

const (
	redisAdminIDsKey    = "rowguard:admins:ids"
	redisAdminEmailsKey = "rowguard:admins:emails"
)

// RedisAdminStore keeps the admin allow-list in two redis sets so several
// service instances share one list. It satisfies rowguard.AdminLookup.
type RedisAdminStore struct {
	client *redis.Client
}

var _ rowguard.AdminLookup = (*RedisAdminStore)(nil)

func NewRedisAdminStore(client *redis.Client) *RedisAdminStore {
	return &RedisAdminStore{client: client}
}

func (s *RedisAdminStore) Grant(ctx context.Context, subjectID, email string) error {
	if subjectID != "" {
		if err := s.client.SAdd(ctx, redisAdminIDsKey, subjectID).Err(); err != nil {
			return err
		}
	}
	if email != "" {
		if err := s.client.SAdd(ctx, redisAdminEmailsKey, email).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisAdminStore) Revoke(ctx context.Context, subjectID, email string) error {
	if subjectID != "" {
		if err := s.client.SRem(ctx, redisAdminIDsKey, subjectID).Err(); err != nil {
			return err
		}
	}
	if email != "" {
		if err := s.client.SRem(ctx, redisAdminEmailsKey, email).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisAdminStore) IsAdmin(ctx context.Context, subjectID, email string) (bool, error) {
	if subjectID != "" {
		ok, err := s.client.SIsMember(ctx, redisAdminIDsKey, subjectID).Result()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	if email != "" {
		ok, err := s.client.SIsMember(ctx, redisAdminEmailsKey, email).Result()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Admins lists every allow-listed subject id and email.
func (s *RedisAdminStore) Admins(ctx context.Context) (ids, emails []string, err error) {
	ids, err = s.client.SMembers(ctx, redisAdminIDsKey).Result()
	if err != nil {
		return nil, nil, err
	}
	emails, err = s.client.SMembers(ctx, redisAdminEmailsKey).Result()
	if err != nil {
		return nil, nil, err
	}
	return ids, emails, nil
}
