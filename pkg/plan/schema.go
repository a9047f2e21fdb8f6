package plan

import (
	"fmt"

	"cuelang.org/go/cue"
)

// planSchema constrains CUE plan documents. Definitions are closed, so
// unknown fields are rejected the same way the YAML decoder rejects them.
const planSchema = `
#HealthCheck: {
	type:      "ping" | "tcp" | "http"
	host:      string & !=""
	port?:     int & >0 & <65536
	scheme?:   "http" | "https"
	path?:     string
	timeout?:  int & >0 & <=86400
	interval?: int & >0 & <=86400
}

#VM: {
	id:             int & >=100
	name?:          string
	start_timeout?: int & >0 & <=86400
	health_check?:  #HealthCheck
}

#Mount: {
	type:         "nfs" | "cifs"
	source:       string & !=""
	target:       string & =~"^/"
	options?:     string
	credentials?: string
}

#Container: {
	id:                int & >=100
	name?:             string
	wait?:             int & >=0 & <=86400
	depends_on_mount?: string
}

#Shutdown: {
	container_timeout?: int & >0 & <=86400
	vm_timeout?:        int & >0 & <=86400
	unmount_shares?:    bool
}

#Plan: {
	vm?:         #VM
	mounts?:     [...#Mount]
	containers?: [...#Container]
	shutdown?:   #Shutdown
}
`

// planDefinition compiles the schema in ctx and returns its #Plan
// definition. Values from different contexts cannot be unified, so the
// schema is compiled into the context used for the document.
func planDefinition(ctx *cue.Context) (cue.Value, error) {
	v := ctx.CompileString(planSchema, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile plan schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#Plan"))
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to look up #Plan: %w", err)
	}
	return def, nil
}
