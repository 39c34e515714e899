package model

import (
	"fmt"
	"time"
)

// ResourceSlot 一个可租用的 GPU 执行单元
type ResourceSlot struct {
	DeviceClass string `json:"device_class"` // 设备类别，如 H100
	InstanceID  int    `json:"instance_id"`  // 该类别下的实例编号（对应 CUDA_VISIBLE_DEVICES）
}

func (s ResourceSlot) String() string {
	return fmt.Sprintf("%s#%d", s.DeviceClass, s.InstanceID)
}

// Lease 资源池发放的租约，ID 在资源池内单调递增
type Lease struct {
	ID        uint64       `json:"id"`
	Slot      ResourceSlot `json:"slot"`
	Holder    string       `json:"holder"`
	GrantedAt time.Time    `json:"granted_at"`
}
