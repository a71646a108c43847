package vm

import "github.com/tliron/commonlog"

var (
	klutLog  = commonlog.GetLogger("objmodel.klut")
	spaceLog = commonlog.GetLogger("objmodel.classspace")
)
