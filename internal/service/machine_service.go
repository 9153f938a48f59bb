package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vendpay/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type MachineNameSource interface {
	GetName(ctx context.Context, id uint) (string, error)
}

// MachineService resolves machine names for notifications, caching hits in redis.
// Lookups never fail: anything unresolvable becomes domain.DefaultMachineName.
type MachineService struct {
	repo MachineNameSource
	rdb  *redis.Client
	ttl  time.Duration
	log  *zap.Logger
}

// NewMachineService accepts a nil redis client, in which case every lookup hits the repo.
func NewMachineService(repo MachineNameSource, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *MachineService {
	return &MachineService{repo: repo, rdb: rdb, ttl: ttl, log: log}
}

func machineKey(id uint) string {
	return fmt.Sprintf("machine:name:%d", id)
}

func (s *MachineService) GetMachineName(ctx context.Context, machineID *uint) string {
	if machineID == nil || *machineID == 0 {
		return domain.DefaultMachineName
	}
	id := *machineID
	if s.rdb != nil {
		name, err := s.rdb.Get(ctx, machineKey(id)).Result()
		if err == nil && name != "" {
			return name
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			s.log.Debug("machine cache read", zap.Uint("machine_id", id), zap.Error(err))
		}
	}
	name, err := s.repo.GetName(ctx, id)
	if err != nil {
		s.log.Warn("machine lookup failed", zap.Uint("machine_id", id), zap.Error(err))
		return domain.DefaultMachineName
	}
	if name == "" {
		return domain.DefaultMachineName
	}
	if s.rdb != nil {
		if err := s.rdb.Set(ctx, machineKey(id), name, s.ttl).Err(); err != nil {
			s.log.Debug("machine cache write", zap.Uint("machine_id", id), zap.Error(err))
		}
	}
	return name
}
