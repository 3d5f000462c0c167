package domain

var Tables = []interface{}{
	// System
	&SysConfig{},
	&SysScheduler{},
	// Gateway instances
	&Instance{},
}
