// openapi-gen builds docs/openapi.{json,yaml} from the Add*Routes functions of
// the project. Request and response bodies come from the "// @request" and
// "// @response" annotations after Decode and Encode calls.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/contenox/chatsync/apiframework"
	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"
)

// parsed holds the non-test files of every package, keyed by package name.
type parsed struct {
	fset  *token.FileSet
	files map[string][]*ast.File
}

func main() {
	var projectDir, outputDir string
	flag.StringVar(&projectDir, "project", "", "The root directory of the Go project to parse.")
	flag.StringVar(&outputDir, "output", "docs", "The output directory for the generated OpenAPI spec.")
	flag.Parse()

	if projectDir == "" {
		fmt.Println("Error: The --project flag is required.")
		flag.Usage()
		os.Exit(1)
	}

	p, err := parseProject(projectDir)
	if err != nil {
		log.Fatal("Failed to parse project:", err)
	}

	spec := build(p)
	if err := write(spec, outputDir); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("✅ OpenAPI spec generated in %s\n", outputDir)
}

// build assembles the document from every Add*Routes function in p.
func build(p *parsed) *openapi3.T {
	spec := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:   "chatsync – chat room store API",
			Version: apiframework.GetVersion(),
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{"ErrorResponse": errorResponseSchema()},
			SecuritySchemes: openapi3.SecuritySchemes{
				"BearerAuth": &openapi3.SecuritySchemeRef{
					Value: openapi3.NewJWTSecurityScheme(),
				},
			},
		},
		Security: *openapi3.NewSecurityRequirements().With(openapi3.SecurityRequirement{"BearerAuth": []string{}}),
	}

	refs := map[string]bool{}
	for _, files := range p.files {
		for _, file := range files {
			for _, decl := range file.Decls {
				fn, ok := decl.(*ast.FuncDecl)
				if !ok || !strings.HasPrefix(fn.Name.Name, "Add") || !strings.HasSuffix(fn.Name.Name, "Routes") {
					continue
				}
				p.addRoutes(file, fn, spec, refs)
			}
		}
	}
	for name := range refs {
		p.addSchema(spec.Components.Schemas, name)
	}

	return spec
}

func write(spec *openapi3.T, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, "openapi.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write spec: %w", err)
	}
	data, err = yaml.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}
	return os.WriteFile(filepath.Join(outputDir, "openapi.yaml"), data, 0o644)
}

func parseProject(rootDir string) (*parsed, error) {
	p := &parsed{fset: token.NewFileSet(), files: map[string][]*ast.File{}}
	err := filepath.WalkDir(rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != rootDir && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "tools" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		file, err := parser.ParseFile(p.fset, path, nil, parser.ParseComments)
		if err != nil {
			log.Printf("Error parsing file %s: %v", path, err)
			return nil
		}
		p.files[file.Name.Name] = append(p.files[file.Name.Name], file)
		return nil
	})
	return p, err
}

// addRoutes registers every mux.Handle/HandleFunc call inside fn.
func (p *parsed) addRoutes(file *ast.File, fn *ast.FuncDecl, spec *openapi3.T, refs map[string]bool) {
	ast.Inspect(fn.Body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok || len(call.Args) < 2 {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok || (sel.Sel.Name != "HandleFunc" && sel.Sel.Name != "Handle") {
			return true
		}
		method, path := p.routePattern(call.Args[0])
		if path == "" {
			return true
		}
		handler := resolveHandler(file, call.Args[1])
		if handler == nil {
			return true
		}
		addOperation(file, handler, method, path, spec, refs)
		return true
	})
}

// routePattern reads "METHOD /path" patterns, also when built as
// "POST "+pkg.Constant.
func (p *parsed) routePattern(expr ast.Expr) (string, string) {
	raw, ok := p.stringValue(expr)
	if !ok {
		return "", ""
	}
	method, path, found := strings.Cut(raw, " ")
	if !found {
		return "GET", method
	}
	return method, strings.TrimSpace(path)
}

func (p *parsed) stringValue(expr ast.Expr) (string, bool) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		return stringLit(e)
	case *ast.BinaryExpr:
		x, ok1 := p.stringValue(e.X)
		y, ok2 := p.stringValue(e.Y)
		return x + y, ok1 && ok2 && e.Op == token.ADD
	case *ast.SelectorExpr:
		if pkg, ok := e.X.(*ast.Ident); ok {
			return p.constValue(pkg.Name, e.Sel.Name)
		}
	}
	return "", false
}

func (p *parsed) constValue(pkg, name string) (string, bool) {
	for _, file := range p.files[pkg] {
		for _, decl := range file.Decls {
			gen, ok := decl.(*ast.GenDecl)
			if !ok || gen.Tok != token.CONST {
				continue
			}
			for _, spec := range gen.Specs {
				vs := spec.(*ast.ValueSpec)
				for i, id := range vs.Names {
					if id.Name == name && i < len(vs.Values) {
						return p.stringValue(vs.Values[i])
					}
				}
			}
		}
	}
	return "", false
}

// resolveHandler finds the method declaration behind h, looking through
// wrappers such as guard(s.getRoom).
func resolveHandler(file *ast.File, h ast.Expr) *ast.FuncDecl {
	switch e := h.(type) {
	case *ast.CallExpr:
		if len(e.Args) == 0 {
			return nil
		}
		return resolveHandler(file, e.Args[len(e.Args)-1])
	case *ast.SelectorExpr:
		for _, decl := range file.Decls {
			if fn, ok := decl.(*ast.FuncDecl); ok && fn.Recv != nil && fn.Name.Name == e.Sel.Name {
				return fn
			}
		}
	case *ast.FuncLit:
		return &ast.FuncDecl{Name: ast.NewIdent("handler"), Type: e.Type, Body: e.Body}
	}
	return nil
}

func addOperation(file *ast.File, handler *ast.FuncDecl, method, path string, spec *openapi3.T, refs map[string]bool) {
	item := spec.Paths.Find(path)
	if item == nil {
		item = &openapi3.PathItem{}
		spec.Paths.Set(path, item)
		descriptions := paramDescriptions(handler, "GetPathParam", 1, 2)
		for _, name := range pathParams(path) {
			param := openapi3.NewPathParameter(name).WithSchema(openapi3.NewStringSchema())
			param.Description = descriptions[name]
			item.Parameters = append(item.Parameters, &openapi3.ParameterRef{Value: param})
		}
	}

	op := openapi3.NewOperation()
	op.OperationID = handler.Name.Name
	op.Summary = handler.Name.Name
	if doc := commentText(handler.Doc); doc != "" {
		op.Summary, _, _ = strings.Cut(doc, "\n")
		op.Description = doc
	}
	for name, desc := range paramDescriptions(handler, "GetQueryParam", 1, 3) {
		param := openapi3.NewQueryParameter(name).WithSchema(openapi3.NewStringSchema())
		param.Description = desc
		op.AddParameter(param)
	}
	for name, desc := range paramDescriptions(handler, "GetIntQueryParam", 1, 5) {
		param := openapi3.NewQueryParameter(name).WithSchema(openapi3.NewIntegerSchema())
		param.Description = desc
		op.AddParameter(param)
	}

	if typ := annotation(handler, file, "Decode", "@request "); typ != "" {
		op.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
			WithRequired(true).
			WithJSONSchemaRef(schemaRefFor(typ, refs))}
	}

	op.Responses = openapi3.NewResponses()
	statuses := responses(handler, file)
	for status, typ := range statuses {
		resp := openapi3.NewResponse().WithDescription(statusText(status))
		if typ != "" {
			resp = resp.WithJSONSchemaRef(schemaRefFor(typ, refs))
		}
		op.AddResponse(status, resp)
	}
	if len(statuses) == 0 {
		op.AddResponse(200, openapi3.NewResponse().WithDescription("OK"))
	}
	op.Responses.Set("default", &openapi3.ResponseRef{Value: openapi3.NewResponse().
		WithDescription("Default error response").
		WithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil))})

	item.SetOperation(strings.ToUpper(method), op)
}

func pathParams(path string) []string {
	var out []string
	for _, part := range strings.Split(path, "/") {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			out = append(out, strings.Trim(part, "{}"))
		}
	}
	return out
}

// paramDescriptions maps parameter names to the description argument of the
// named helper calls in handler.
func paramDescriptions(handler *ast.FuncDecl, helper string, nameArg, descArg int) map[string]string {
	out := map[string]string{}
	ast.Inspect(handler.Body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok || sel.Sel.Name != helper || len(call.Args) <= descArg {
			return true
		}
		name, ok1 := stringLit(call.Args[nameArg])
		desc, ok2 := stringLit(call.Args[descArg])
		if ok1 && ok2 {
			out[name] = desc
		}
		return true
	})
	return out
}

func stringLit(expr ast.Expr) (string, bool) {
	lit, ok := expr.(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", false
	}
	s, err := strconv.Unquote(lit.Value)
	return s, err == nil
}

// annotation returns the type named by the tag comment that follows the
// first call to fnName in handler.
func annotation(handler *ast.FuncDecl, file *ast.File, fnName, tag string) string {
	var out string
	ast.Inspect(handler.Body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok || out != "" || calleeName(call) != fnName {
			return true
		}
		if after, ok := strings.CutPrefix(followingComment(call, file), tag); ok {
			out = strings.TrimSpace(after)
		}
		return true
	})
	return out
}

// responses maps the status of every Encode call to its @response type, and
// bare WriteHeader calls to an empty body.
func responses(handler *ast.FuncDecl, file *ast.File) map[int]string {
	out := map[int]string{}
	ast.Inspect(handler.Body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		switch calleeName(call) {
		case "Encode":
			if len(call.Args) < 4 {
				return true
			}
			if status := statusCode(call.Args[2]); status != 0 {
				typ, _ := strings.CutPrefix(followingComment(call, file), "@response ")
				out[status] = strings.TrimSpace(typ)
			}
		case "WriteHeader":
			if len(call.Args) == 1 {
				if status := statusCode(call.Args[0]); status != 0 {
					out[status] = ""
				}
			}
		}
		return true
	})
	return out
}

func calleeName(call *ast.CallExpr) string {
	fun := call.Fun
	if idx, ok := fun.(*ast.IndexExpr); ok {
		fun = idx.X
	}
	if sel, ok := fun.(*ast.SelectorExpr); ok {
		return sel.Sel.Name
	}
	return ""
}

// followingComment returns the "@..." comment on the line of node.
func followingComment(node ast.Node, file *ast.File) string {
	end := node.End()
	for _, group := range file.Comments {
		for _, c := range group.List {
			if c.Slash > end && c.Slash <= end+3 {
				text := strings.TrimSpace(strings.TrimPrefix(c.Text, "//"))
				if strings.HasPrefix(text, "@") {
					return text
				}
			}
		}
	}
	return ""
}

func statusCode(expr ast.Expr) int {
	name := ""
	switch e := expr.(type) {
	case *ast.SelectorExpr:
		name = e.Sel.Name
	case *ast.BasicLit:
		n, _ := strconv.Atoi(e.Value)
		return n
	}
	switch name {
	case "StatusOK":
		return 200
	case "StatusCreated":
		return 201
	case "StatusNoContent":
		return 204
	}
	return 0
}

func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	}
	return strconv.Itoa(code)
}

// schemaRefFor turns "pkg.Type" or "[]pkg.Type" into a schema reference and
// records the component it needs.
func schemaRefFor(typ string, refs map[string]bool) *openapi3.SchemaRef {
	if elem, ok := strings.CutPrefix(typ, "[]"); ok {
		return openapi3.NewArraySchema().WithItems(schemaRefFor(strings.TrimPrefix(elem, "*"), refs).Value).NewRef()
	}
	name := componentName(typ)
	refs[typ] = true
	return openapi3.NewSchemaRef("#/components/schemas/"+name, openapi3.NewObjectSchema())
}

func componentName(typ string) string {
	return strings.ReplaceAll(strings.TrimPrefix(typ, "*"), ".", "_")
}

// addSchema converts the struct declaration of typ ("pkg.Type") into a
// component schema. Nested struct types of the same package are added too.
func (p *parsed) addSchema(schemas openapi3.Schemas, typ string) {
	name := componentName(typ)
	if _, ok := schemas[name]; ok {
		return
	}
	pkg, typeName, ok := strings.Cut(strings.TrimPrefix(typ, "*"), ".")
	if !ok {
		return
	}
	st := p.findStruct(pkg, typeName)
	if st == nil {
		log.Printf("type %s not found", typ)
		schemas[name] = openapi3.NewObjectSchema().NewRef()
		return
	}
	schema := openapi3.NewObjectSchema()
	schemas[name] = schema.NewRef()
	for _, field := range st.Fields.List {
		if len(field.Names) == 0 || !field.Names[0].IsExported() {
			continue
		}
		jsonName, omitEmpty := jsonTag(field, field.Names[0].Name)
		if jsonName == "-" {
			continue
		}
		prop := p.fieldSchema(schemas, pkg, field.Type)
		if field.Tag != nil && prop.Ref == "" {
			tag := reflect.StructTag(strings.Trim(field.Tag.Value, "`"))
			if ex, ok := tag.Lookup("example"); ok {
				prop.Value.Example = ex
			}
		}
		if doc := commentText(field.Doc); doc != "" && prop.Ref == "" {
			prop.Value.Description = doc
		}
		schema.Properties[jsonName] = prop
		if !omitEmpty {
			schema.Required = append(schema.Required, jsonName)
		}
	}
	sort.Strings(schema.Required)
}

func (p *parsed) findStruct(pkg, typeName string) *ast.StructType {
	for _, file := range p.files[pkg] {
		for _, decl := range file.Decls {
			gen, ok := decl.(*ast.GenDecl)
			if !ok || gen.Tok != token.TYPE {
				continue
			}
			for _, spec := range gen.Specs {
				ts := spec.(*ast.TypeSpec)
				if ts.Name.Name != typeName {
					continue
				}
				if st, ok := ts.Type.(*ast.StructType); ok {
					return st
				}
			}
		}
	}
	return nil
}

func (p *parsed) fieldSchema(schemas openapi3.Schemas, pkg string, expr ast.Expr) *openapi3.SchemaRef {
	switch t := expr.(type) {
	case *ast.StarExpr:
		ref := p.fieldSchema(schemas, pkg, t.X)
		if ref.Ref == "" {
			ref.Value.Nullable = true
		}
		return ref
	case *ast.ArrayType:
		if id, ok := t.Elt.(*ast.Ident); ok && id.Name == "byte" {
			return openapi3.NewBytesSchema().NewRef()
		}
		return openapi3.NewArraySchema().WithItems(p.fieldSchema(schemas, pkg, t.Elt).Value).NewRef()
	case *ast.MapType:
		return openapi3.NewObjectSchema().WithAdditionalProperties(p.fieldSchema(schemas, pkg, t.Value).Value).NewRef()
	case *ast.SelectorExpr:
		if x, ok := t.X.(*ast.Ident); ok && x.Name == "time" && t.Sel.Name == "Time" {
			return openapi3.NewDateTimeSchema().NewRef()
		}
		if x, ok := t.X.(*ast.Ident); ok {
			return p.structRef(schemas, x.Name+"."+t.Sel.Name)
		}
	case *ast.Ident:
		switch t.Name {
		case "string":
			return openapi3.NewStringSchema().NewRef()
		case "bool":
			return openapi3.NewBoolSchema().NewRef()
		case "int", "int32", "uint", "uint32":
			return openapi3.NewInt32Schema().NewRef()
		case "int64", "uint64":
			return openapi3.NewInt64Schema().NewRef()
		case "float32", "float64":
			return openapi3.NewFloat64Schema().NewRef()
		}
		if t.IsExported() {
			return p.structRef(schemas, pkg+"."+t.Name)
		}
	}
	return openapi3.NewObjectSchema().NewRef()
}

func (p *parsed) structRef(schemas openapi3.Schemas, typ string) *openapi3.SchemaRef {
	p.addSchema(schemas, typ)
	ref := schemas[componentName(typ)]
	return openapi3.NewSchemaRef("#/components/schemas/"+componentName(typ), ref.Value)
}

func jsonTag(field *ast.Field, fallback string) (string, bool) {
	if field.Tag == nil {
		return fallback, false
	}
	tag := reflect.StructTag(strings.Trim(field.Tag.Value, "`")).Get("json")
	if tag == "" {
		return fallback, false
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = fallback
	}
	return name, strings.Contains(opts, "omitempty")
}

func commentText(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}

func described(schema *openapi3.Schema, desc string) *openapi3.Schema {
	schema.Description = desc
	return schema
}

func errorResponseSchema() *openapi3.SchemaRef {
	param := described(openapi3.NewStringSchema(), "The parameter that caused the error, if applicable")
	param.Nullable = true
	detail := openapi3.NewObjectSchema().
		WithProperty("message", described(openapi3.NewStringSchema(), "A human-readable error message")).
		WithProperty("type", described(openapi3.NewStringSchema(), "The error type category (e.g., 'invalid_request_error', 'authentication_error')")).
		WithProperty("param", param).
		WithProperty("code", described(openapi3.NewStringSchema(), "A specific error code identifier (e.g., 'not_found', 'unauthorized')"))
	detail.Required = []string{"message", "type", "code"}
	root := openapi3.NewObjectSchema().WithProperty("error", detail)
	root.Required = []string{"error"}
	return root.NewRef()
}
