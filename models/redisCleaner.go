package models

import (
	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
)

type RedisCleaner interface {
	RemoveInstanceRedis() error // remove one
	RemoveAllRedis() error      // remove list if exists
}

// remove both item & list
func RemoveRedisBoth[T RedisCleaner](obj T) error {
	if err := obj.RemoveInstanceRedis(); err != nil {
		return err
	}
	if err := obj.RemoveAllRedis(); err != nil {
		return err
	}
	return nil
}

func (obj Source) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("Source:"+obj.ID, "SourceKey:"+obj.ID)
}

func (obj Source) RemoveAllRedis() error {
	return nil
}

func (obj MappingTemplate) RemoveInstanceRedis() error {
	if err := utils.RemoveRedisItem[MappingTemplate](obj.ID); err != nil {
		return err
	}
	return nil
}

func (obj MappingTemplate) RemoveAllRedis() error {
	if err := utils.RemoveRedisList[MappingTemplate](""); err != nil {
		return err
	}
	return nil
}

func (obj TenantMappingOverride) RemoveInstanceRedis() error {
	if err := utils.RemoveRedisItem[TenantMappingOverride](obj.ID); err != nil {
		return err
	}
	return nil
}

func (obj TenantMappingOverride) RemoveAllRedis() error {
	if err := utils.RemoveRedisList[TenantMappingOverride](obj.TenantId); err != nil {
		return err
	}
	return nil
}

func (obj SourceMapping) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("SourceMapping:" + obj.TenantId + ":" + obj.SourceId)
}

func (obj SourceMapping) RemoveAllRedis() error {
	return nil
}

func (obj EntityRef) RemoveInstanceRedis() error {
	return config.RemoveRedisKey(entityRefRedisKey(obj.TenantId, obj.RefType, obj.ExternalId))
}

func (obj EntityRef) RemoveAllRedis() error {
	return nil
}
