package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供目标账号、视图与缓存状态字段，供接口请求日志复用。
func RequestFields(target, view, cacheState string) logrus.Fields {
	return logrus.Fields{
		"target":      target,
		"view":        view,
		"cache_state": cacheState,
		"cache_hit":   cacheState == "hit" || cacheState == "stale",
	}
}

// EgressFields 描述一次出站请求使用的代理与尝试次数。
func EgressFields(egressID string, attempt int) logrus.Fields {
	if egressID == "" {
		egressID = "direct"
	}
	return logrus.Fields{
		"egress":  egressID,
		"attempt": attempt,
	}
}
