package snowflake

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/sonyflake/v2"
	"github.com/spf13/viper"
)

var (
	node *sonyflake.Sonyflake
	mu   sync.RWMutex
)

// Init 初始化 snowflake，startTime 格式为 2006-01-02
func Init(startTime string, machineID int) error {
	st, err := time.Parse(time.DateOnly, startTime)
	if err != nil {
		return fmt.Errorf("parse start time failed, err:%w", err)
	}
	settings := sonyflake.Settings{
		StartTime: st,
		MachineID: func() (int, error) {
			return machineID, nil
		},
		CheckMachineID: func(int) bool { return true },
	}
	n, err := sonyflake.New(settings)
	if err != nil {
		return fmt.Errorf("init sonyflake failed, err:%w", err)
	}
	mu.Lock()
	node = n
	mu.Unlock()
	return nil
}

// MustInit 从配置初始化 snowflake，失败时 panic
func MustInit(viper *viper.Viper) {
	if err := Init(viper.GetString("snowflake.start_time"), viper.GetInt("snowflake.machine_id")); err != nil {
		panic(err)
	}
}

// NextID 生成评测任务ID
func NextID() (int64, error) {
	mu.RLock()
	n := node
	mu.RUnlock()
	if n == nil {
		return 0, errors.New("snowflake 未初始化")
	}
	return n.NextID()
}
